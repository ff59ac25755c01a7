package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedBus "github.com/davicafu/usersync/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/usersync/internal/shared/infra/utils"
)

// KafkaPublisher serializa el evento a JSON y lo escribe con la partition
// key que indique el propio evento (Keyer). Reintenta los fallos transitorios.
type KafkaPublisher struct {
	writer      MessageWriter
	topic       string
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger
}

type PublisherOption func(*KafkaPublisher)

func WithRetry(maxAttempts int, backoff time.Duration) PublisherOption {
	return func(p *KafkaPublisher) {
		p.maxAttempts = maxAttempts
		p.backoff = backoff
	}
}

// NewKafkaPublisher: topic solo se usa en logs y métricas; el destino real
// lo fija el writer.
func NewKafkaPublisher(writer MessageWriter, topic string, log *zap.Logger, opts ...PublisherOption) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:      writer,
		topic:       topic,
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
		log:         log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var key []byte
	if keyer, ok := event.(sharedBus.Keyer); ok {
		key = []byte(keyer.PartitionKey())
	}

	msg := kafka.Message{
		Key:   key,
		Value: data,
		Time:  time.Now().UTC(),
	}

	attempt := 0
	err = sharedUtils.Retry(ctx, p.maxAttempts, p.backoff, func() error {
		attempt++
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.log.Warn("⚠️ Fallo escribiendo en el broker, reintentando",
				zap.String("topic", p.topic),
				zap.String("key", string(key)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
	if err != nil {
		publishedTotal.WithLabelValues(p.topic, "failed").Inc()
		p.log.Error("Error publishing to broker", zap.String("topic", p.topic), zap.String("key", string(key)), zap.Error(err))
		return fmt.Errorf("%w: %v", sharedDomain.ErrTransportFailure, err)
	}

	publishedTotal.WithLabelValues(p.topic, "ok").Inc()
	p.log.Debug("Event published successfully", zap.String("topic", p.topic), zap.String("key", string(key)))
	return nil
}

// Verificación estática
var _ sharedBus.EventBus = (*KafkaPublisher)(nil)
