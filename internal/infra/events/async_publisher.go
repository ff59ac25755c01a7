package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedBus "github.com/davicafu/usersync/internal/shared/infra/platform/bus"
)

var ErrPublisherClosed = errors.New("publisher closed")

type asyncJob struct {
	event interface{}
	key   string
}

// AsyncPublisher desacopla al caller de la latencia del broker. Cada key va
// siempre al mismo shard y cada shard tiene un único worker, así que el
// orden por key se conserva.
type AsyncPublisher struct {
	next         sharedBus.EventBus
	topic        string
	shards       []chan asyncJob
	sendTimeout  time.Duration
	enqueueAwait time.Duration
	log          *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncPublisher arranca workers goroutines. Si la cola de un shard está
// llena el caller espera como mucho sendTimeout; después el evento se descarta
// y se devuelve ErrTransportFailure.
func NewAsyncPublisher(next sharedBus.EventBus, topic string, workers, queueSize int, sendTimeout time.Duration, log *zap.Logger) *AsyncPublisher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &AsyncPublisher{
		next:         next,
		topic:        topic,
		shards:       make([]chan asyncJob, workers),
		sendTimeout:  sendTimeout,
		enqueueAwait: sendTimeout,
		log:          log,
	}
	for i := range p.shards {
		p.shards[i] = make(chan asyncJob, queueSize)
		p.wg.Add(1)
		go p.worker(i, p.shards[i])
	}
	return p
}

func (p *AsyncPublisher) Publish(ctx context.Context, event interface{}) error {
	key := ""
	if keyer, ok := event.(sharedBus.Keyer); ok {
		key = keyer.PartitionKey()
	}
	job := asyncJob{event: event, key: key}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	shard := p.shards[xxhash.Sum64String(key)%uint64(len(p.shards))]
	select {
	case shard <- job:
		return nil
	default:
	}

	// Cola llena: esperamos un poco en vez de adelantar a eventos previos de la misma key.
	timer := time.NewTimer(p.enqueueAwait)
	defer timer.Stop()
	select {
	case shard <- job:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	publishedTotal.WithLabelValues(p.topic, "dropped").Inc()
	p.log.Error("❌ Cola de publicación llena, evento descartado",
		zap.String("topic", p.topic),
		zap.String("key", key),
	)
	return fmt.Errorf("%w: publish queue full", sharedDomain.ErrTransportFailure)
}

func (p *AsyncPublisher) worker(idx int, jobs <-chan asyncJob) {
	defer p.wg.Done()
	for job := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
		if err := p.next.Publish(ctx, job.event); err != nil {
			p.log.Error("❌ TransportFailure: evento no entregado al broker",
				zap.Int("shard", idx),
				zap.String("key", job.key),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close deja de aceptar eventos y espera a que se vacíen las colas o a que
// venza ctx.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, ch := range p.shards {
			close(ch)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Verificación estática
var _ sharedBus.EventBus = (*AsyncPublisher)(nil)
