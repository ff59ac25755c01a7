package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
)

// flakyWriter falla las primeras n escrituras.
type flakyWriter struct {
	mu    sync.Mutex
	fails int
	calls int
	msgs  []kafka.Message
}

func (w *flakyWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.fails {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *flakyWriter) Close() error { return nil }

func TestKafkaPublisher_KeyAndPayload(t *testing.T) {
	w := &flakyWriter{}
	p := NewKafkaPublisher(w, "user-events", zap.NewNop())

	evt := sharedEvents.NewUserEvent("a@x.com", sharedEvents.UserCreated)
	require.NoError(t, p.Publish(context.Background(), evt))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "a@x.com", string(w.msgs[0].Key))
	decoded, err := sharedEvents.DecodeUserEvent(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, sharedEvents.UserCreated, decoded.Type)
}

func TestKafkaPublisher_RetriesTransientFailures(t *testing.T) {
	w := &flakyWriter{fails: 2}
	p := NewKafkaPublisher(w, "t", zap.NewNop(), WithRetry(3, time.Millisecond))

	require.NoError(t, p.Publish(context.Background(), sharedEvents.NewUserEvent("a@x.com", sharedEvents.UserUpdated)))
	assert.Equal(t, 3, w.calls)
}

func TestKafkaPublisher_ExhaustedIsTransportFailure(t *testing.T) {
	w := &flakyWriter{fails: 10}
	p := NewKafkaPublisher(w, "t", zap.NewNop(), WithRetry(2, time.Millisecond))

	err := p.Publish(context.Background(), sharedEvents.NewUserEvent("a@x.com", sharedEvents.UserDeleted))
	assert.ErrorIs(t, err, sharedDomain.ErrTransportFailure)
	assert.Equal(t, 2, w.calls)
}

// recordingBus guarda el orden en que llegan los eventos.
type recordingBus struct {
	mu     sync.Mutex
	events []sharedEvents.UserEvent
	block  chan struct{}
}

func (b *recordingBus) Publish(ctx context.Context, event interface{}) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event.(sharedEvents.UserEvent))
	return nil
}

func (b *recordingBus) snapshot() []sharedEvents.UserEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sharedEvents.UserEvent(nil), b.events...)
}

func TestAsyncPublisher_PreservesPerKeyOrder(t *testing.T) {
	next := &recordingBus{}
	p := NewAsyncPublisher(next, "t", 4, 64, time.Second, zap.NewNop())

	types := []sharedEvents.EventType{sharedEvents.UserCreated, sharedEvents.UserUpdated, sharedEvents.UserDeleted}
	var sent []sharedEvents.UserEvent
	for i := 0; i < 10; i++ {
		evt := sharedEvents.NewUserEvent("a@x.com", types[i%3])
		sent = append(sent, evt)
		require.NoError(t, p.Publish(context.Background(), evt))
		require.NoError(t, p.Publish(context.Background(), sharedEvents.NewUserEvent("other@x.com", sharedEvents.UserCreated)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	var got []sharedEvents.UserEvent
	for _, e := range next.snapshot() {
		if e.Email == "a@x.com" {
			got = append(got, e)
		}
	}
	require.Len(t, got, len(sent))
	for i := range sent {
		assert.Equal(t, sent[i].ID, got[i].ID)
	}
}

func TestAsyncPublisher_FullQueueDropsAfterWaiting(t *testing.T) {
	next := &recordingBus{block: make(chan struct{})}
	p := NewAsyncPublisher(next, "t", 1, 1, 20*time.Millisecond, zap.NewNop())

	ctx := context.Background()
	// el primero lo toma el worker (bloqueado), el segundo llena la cola
	require.NoError(t, p.Publish(ctx, sharedEvents.NewUserEvent("a@x.com", sharedEvents.UserCreated)))
	require.Eventually(t, func() bool { return len(p.shards[0]) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Publish(ctx, sharedEvents.NewUserEvent("a@x.com", sharedEvents.UserUpdated)))

	err := p.Publish(ctx, sharedEvents.NewUserEvent("a@x.com", sharedEvents.UserDeleted))
	assert.ErrorIs(t, err, sharedDomain.ErrTransportFailure)

	close(next.block)
	require.NoError(t, p.Close(ctx))
	assert.Len(t, next.snapshot(), 2)
}

func TestAsyncPublisher_RejectsAfterClose(t *testing.T) {
	p := NewAsyncPublisher(&recordingBus{}, "t", 1, 1, time.Second, zap.NewNop())
	require.NoError(t, p.Close(context.Background()))

	err := p.Publish(context.Background(), sharedEvents.NewUserEvent("a@x.com", sharedEvents.UserCreated))
	assert.ErrorIs(t, err, ErrPublisherClosed)
	// Close es idempotente
	assert.NoError(t, p.Close(context.Background()))
}
