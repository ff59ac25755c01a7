package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBackend = errors.New("backend 500")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) observe(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) count(t EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestBreaker() (*Breaker, *fakeClock, *eventSink) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	sink := &eventSink{}
	b := New("users", Config{
		WindowSize:           4,
		MinimumCalls:         4,
		FailureRateThreshold: 50,
		OpenTimeout:          10 * time.Second,
		HalfOpenCalls:        2,
	}, WithClock(clock.Now), WithObserver(sink.observe), WithObserver(LogObserver(zap.NewNop())))
	return b, clock, sink
}

func call(b *Breaker, err error) error {
	done, allowErr := b.Allow()
	if allowErr != nil {
		return allowErr
	}
	done(err)
	return err
}

func tripOpen(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < 4; i++ {
		_ = call(b, errBackend)
	}
	require.Equal(t, Open, b.State())
}

func TestBreaker_StaysClosedBelowMinimumCalls(t *testing.T) {
	b, _, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		_ = call(b, errBackend)
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	b, _, sink := newTestBreaker()
	_ = call(b, nil)
	_ = call(b, nil)
	_ = call(b, errBackend)
	assert.Equal(t, Closed, b.State())

	// 2 de 4 = 50% -> umbral alcanzado
	_ = call(b, errBackend)
	assert.Equal(t, Open, b.State())
	assert.Equal(t, 1, sink.count(EventFailureRateExceeded))
	assert.Equal(t, 1, sink.count(EventStateTransition))
}

func TestBreaker_SlidingWindowForgetsOldFailures(t *testing.T) {
	b, _, _ := newTestBreaker()
	_ = call(b, errBackend)
	_ = call(b, nil)
	_ = call(b, nil)
	_ = call(b, nil) // 25%
	_ = call(b, nil) // el primer fallo sale de la ventana
	_ = call(b, errBackend)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, b.Snapshot().Failures)
	assert.Equal(t, 4, b.Snapshot().Calls)
}

func TestBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	b, _, sink := newTestBreaker()
	tripOpen(t, b)

	done, err := b.Allow()
	assert.ErrorIs(t, err, ErrOpen)
	assert.Nil(t, done)
	assert.Equal(t, 1, sink.count(EventCallNotPermitted))
}

func TestBreaker_HalfOpenAdmitsBoundedCallsThenCloses(t *testing.T) {
	b, clock, _ := newTestBreaker()
	tripOpen(t, b)

	clock.Advance(9 * time.Second)
	assert.Equal(t, Open, b.State())
	clock.Advance(time.Second)
	assert.Equal(t, HalfOpen, b.State())

	done1, err := b.Allow()
	require.NoError(t, err)
	done2, err := b.Allow()
	require.NoError(t, err)

	// tercera llamada: no hay más llamadas de prueba
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrOpen)

	done1(nil)
	assert.Equal(t, HalfOpen, b.State())
	done2(nil)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Snapshot().Calls)
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	b, clock, _ := newTestBreaker()
	tripOpen(t, b)
	clock.Advance(10 * time.Second)

	require.ErrorIs(t, call(b, errBackend), errBackend)
	assert.Equal(t, Open, b.State())

	// el cool-down vuelve a empezar
	clock.Advance(5 * time.Second)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_LateOutcomeFromPreviousGenerationIsIgnored(t *testing.T) {
	b, clock, _ := newTestBreaker()

	slow, err := b.Allow()
	require.NoError(t, err)

	tripOpen(t, b)
	clock.Advance(10 * time.Second)
	require.Equal(t, HalfOpen, b.State())

	// una llamada de CLOSED que termina tarde no cuenta como llamada de prueba
	slow(errBackend)
	assert.Equal(t, HalfOpen, b.State())
}

func TestBreaker_DoneIsIdempotent(t *testing.T) {
	b, _, _ := newTestBreaker()
	done, err := b.Allow()
	require.NoError(t, err)
	done(errBackend)
	done(errBackend)
	assert.Equal(t, 1, b.Snapshot().Calls)
}

func TestBreaker_IgnoredOutcomeIsNotCounted(t *testing.T) {
	b, _, sink := newTestBreaker()
	for i := 0; i < 4; i++ {
		_ = call(b, ErrIgnored)
	}
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Snapshot().Calls)
	assert.Equal(t, 0, sink.count(EventError))
}

func TestBreaker_IgnoredTrialReleasesHalfOpenSlot(t *testing.T) {
	b, clock, _ := newTestBreaker()
	tripOpen(t, b)
	clock.Advance(10 * time.Second)

	done1, err := b.Allow()
	require.NoError(t, err)
	done2, err := b.Allow()
	require.NoError(t, err)
	_, err = b.Allow()
	require.ErrorIs(t, err, ErrOpen)

	// la llamada abandonada deja sitio a otra
	done1(ErrIgnored)
	assert.Equal(t, HalfOpen, b.State())
	done3, err := b.Allow()
	require.NoError(t, err)

	done2(nil)
	done3(nil)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _, sink := newTestBreaker()
	tripOpen(t, b)
	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, sink.count(EventReset))
	assert.NoError(t, call(b, nil))
}

func TestBreaker_ConcurrentCallsKeepConsistentCounts(t *testing.T) {
	b := New("c", Config{WindowSize: 100, MinimumCalls: 100, FailureRateThreshold: 100})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = call(b, nil)
		}()
	}
	wg.Wait()
	s := b.Snapshot()
	assert.Equal(t, 50, s.Calls)
	assert.Equal(t, Closed, s.State)
}

func TestDefaultsApplied(t *testing.T) {
	b := New("d", Config{})
	assert.Equal(t, DefaultConfig(), b.cfg)
}
