package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sharedUtils "github.com/davicafu/usersync/internal/shared/infra/utils"
)

// MessageHandler define la interfaz que debe cumplir cualquier consumidor de
// eventos. Un error marcado con utils.Permanent no se reintenta.
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, payload []byte) error
}

type ConsumerOptions struct {
	MaxAttempts    int
	Backoff        time.Duration
	HandlerTimeout time.Duration
}

// ConsumerAdapter es el "oído" que escucha en el broker. Entrega
// at-least-once: el offset se confirma solo cuando el handler ha terminado
// (con éxito, o agotados los reintentos, en cuyo caso el mensaje se salta).
type ConsumerAdapter struct {
	readers []MessageReader
	handler MessageHandler
	topic   string
	opts    ConsumerOptions
	log     *zap.Logger
}

// NewConsumerAdapter: un reader por worker. Con Kafka cada reader es un
// miembro del mismo consumer group.
func NewConsumerAdapter(readers []MessageReader, handler MessageHandler, topic string, opts ConsumerOptions, log *zap.Logger) *ConsumerAdapter {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &ConsumerAdapter{
		readers: readers,
		handler: handler,
		topic:   topic,
		opts:    opts,
		log:     log,
	}
}

// Run bloquea hasta que ctx se cancele o los readers se cierren, y después
// cierra los readers.
func (c *ConsumerAdapter) Run(ctx context.Context) error {
	c.log.Info("🎧 Iniciando consumidor",
		zap.String("topic", c.topic),
		zap.Int("workers", len(c.readers)),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range c.readers {
		i, r := i, r
		g.Go(func() error {
			return c.loop(gctx, i, r)
		})
	}
	err := g.Wait()

	for _, r := range c.readers {
		if cerr := r.Close(); cerr != nil {
			c.log.Warn("⚠️ Error cerrando reader", zap.Error(cerr))
		}
	}
	c.log.Info("Consumidor detenido.", zap.String("topic", c.topic))
	return err
}

// Start lanza Run en una goroutine.
func (c *ConsumerAdapter) Start(ctx context.Context) {
	go func() {
		if err := c.Run(ctx); err != nil {
			c.log.Error("❌ Consumidor terminado con error", zap.String("topic", c.topic), zap.Error(err))
		}
	}()
}

func (c *ConsumerAdapter) loop(ctx context.Context, worker int, r MessageReader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.log.Error("Error al leer mensaje", zap.Int("worker", worker), zap.Error(err))
			select {
			case <-time.After(c.opts.Backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		c.process(ctx, msg)

		// Se confirma incluso si el mensaje se saltó: no bloquea la partición.
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("Error al confirmar offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *ConsumerAdapter) process(ctx context.Context, msg kafka.Message) {
	start := time.Now()
	key := string(msg.Key)
	permanent := false
	attempt := 0

	err := sharedUtils.Retry(ctx, c.opts.MaxAttempts, c.opts.Backoff, func() error {
		attempt++
		err := c.invoke(ctx, key, msg.Value)
		if err != nil && sharedUtils.IsPermanent(err) {
			permanent = true
			return err
		}
		if err != nil {
			c.log.Warn("⚠️ Handler falló, reintentando",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	handlerDuration.WithLabelValues(c.topic).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		consumedTotal.WithLabelValues(c.topic, "handled").Inc()
	case permanent:
		consumedTotal.WithLabelValues(c.topic, "malformed").Inc()
		c.log.Error("❌ Mensaje descartado sin reintentos",
			zap.String("key", key),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	default:
		consumedTotal.WithLabelValues(c.topic, "skipped").Inc()
		c.log.Error("❌ Reintentos agotados, mensaje saltado",
			zap.String("key", key),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
}

// invoke aísla un intento: timeout propio y un panic se convierte en error.
func (c *ConsumerAdapter) invoke(ctx context.Context, key string, payload []byte) (err error) {
	hctx := ctx
	if c.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.opts.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return c.handler.HandleMessage(hctx, key, payload)
}
