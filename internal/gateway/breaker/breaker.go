package breaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

// ErrIgnored como resultado libera la llamada sin contarla (p. ej. el cliente
// canceló). En HALF_OPEN devuelve el hueco de prueba.
var ErrIgnored = errors.New("call outcome ignored")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config de un breaker. FailureRateThreshold va en porcentaje (0-100).
type Config struct {
	WindowSize           int           `yaml:"window_size"`
	MinimumCalls         int           `yaml:"minimum_calls"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"`
	OpenTimeout          time.Duration `yaml:"open_timeout"`
	HalfOpenCalls        int           `yaml:"half_open_calls"`
}

func DefaultConfig() Config {
	return Config{
		WindowSize:           10,
		MinimumCalls:         5,
		FailureRateThreshold: 50,
		OpenTimeout:          10 * time.Second,
		HalfOpenCalls:        3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinimumCalls <= 0 {
		c.MinimumCalls = d.MinimumCalls
	}
	if c.MinimumCalls > c.WindowSize {
		c.MinimumCalls = c.WindowSize
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 100 {
		c.FailureRateThreshold = d.FailureRateThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.HalfOpenCalls <= 0 {
		c.HalfOpenCalls = d.HalfOpenCalls
	}
	return c
}

type Option func(*Breaker)

// WithClock sustituye time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func WithObserver(o Observer) Option {
	return func(b *Breaker) { b.observers = append(b.observers, o) }
}

// Breaker es un circuit breaker con ventana deslizante por número de
// llamadas. Cada cambio de estado incrementa generation: el resultado de una
// llamada admitida en una generación anterior se ignora.
type Breaker struct {
	name      string
	cfg       Config
	now       func() time.Time
	observers []Observer

	mu         sync.Mutex
	state      State
	generation uint64
	changedAt  time.Time

	// ventana circular de resultados en CLOSED (true = fallo)
	window   []bool
	pos      int
	calls    int
	failures int

	trialsAdmitted  int
	trialsSucceeded int
}

func New(name string, cfg Config, opts ...Option) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		window: make([]bool, cfg.WindowSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.changedAt = b.now()
	return b
}

func (b *Breaker) Name() string { return b.name }

// Allow decide si una llamada puede pasar. Si pasa, el caller debe invocar
// done exactamente una vez con el resultado (nil = éxito).
func (b *Breaker) Allow() (done func(err error), err error) {
	var events []Event

	b.mu.Lock()
	events = b.maybeHalfOpen(events)

	switch b.state {
	case Open:
		events = append(events, b.event(EventCallNotPermitted))
		b.mu.Unlock()
		b.emit(events)
		return nil, ErrOpen

	case HalfOpen:
		if b.trialsAdmitted >= b.cfg.HalfOpenCalls {
			events = append(events, b.event(EventCallNotPermitted))
			b.mu.Unlock()
			b.emit(events)
			return nil, ErrOpen
		}
		b.trialsAdmitted++
	}

	gen := b.generation
	b.mu.Unlock()
	b.emit(events)

	var once sync.Once
	return func(callErr error) {
		once.Do(func() { b.record(gen, callErr) })
	}, nil
}

func (b *Breaker) record(gen uint64, callErr error) {
	var events []Event

	b.mu.Lock()
	if errors.Is(callErr, ErrIgnored) {
		if gen == b.generation && b.state == HalfOpen && b.trialsAdmitted > 0 {
			b.trialsAdmitted--
		}
		b.mu.Unlock()
		return
	}
	if callErr != nil {
		e := b.event(EventError)
		e.Err = callErr
		events = append(events, e)
	}

	if gen != b.generation {
		b.mu.Unlock()
		b.emit(events)
		return
	}

	switch b.state {
	case Closed:
		failed := callErr != nil
		if b.calls == len(b.window) {
			if b.window[b.pos] {
				b.failures--
			}
		} else {
			b.calls++
		}
		b.window[b.pos] = failed
		if failed {
			b.failures++
		}
		b.pos = (b.pos + 1) % len(b.window)

		if b.calls >= b.cfg.MinimumCalls {
			if rate := b.failureRate(); rate >= b.cfg.FailureRateThreshold {
				e := b.event(EventFailureRateExceeded)
				e.FailureRate = rate
				events = append(events, e)
				events = b.transition(Open, events)
			}
		}

	case HalfOpen:
		if callErr != nil {
			events = b.transition(Open, events)
		} else {
			b.trialsSucceeded++
			if b.trialsSucceeded >= b.cfg.HalfOpenCalls {
				events = b.transition(Closed, events)
			}
		}
	}
	b.mu.Unlock()
	b.emit(events)
}

// State devuelve el estado actual, aplicando el paso OPEN -> HALF_OPEN si
// ya venció OpenTimeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	events := b.maybeHalfOpen(nil)
	s := b.state
	b.mu.Unlock()
	b.emit(events)
	return s
}

// Snapshot para métricas y diagnóstico.
type Snapshot struct {
	State       State
	Calls       int
	Failures    int
	FailureRate float64
	ChangedAt   time.Time
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:       b.state,
		Calls:       b.calls,
		Failures:    b.failures,
		FailureRate: b.failureRate(),
		ChangedAt:   b.changedAt,
	}
}

// Reset fuerza CLOSED y vacía la ventana.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var events []Event
	if b.state != Closed {
		events = b.transition(Closed, events)
	} else {
		b.clearWindow()
		b.generation++
	}
	events = append(events, b.event(EventReset))
	b.mu.Unlock()
	b.emit(events)
}

// ---- helpers (con mu tomado) ----

func (b *Breaker) maybeHalfOpen(events []Event) []Event {
	if b.state == Open && b.now().Sub(b.changedAt) >= b.cfg.OpenTimeout {
		return b.transition(HalfOpen, events)
	}
	return events
}

func (b *Breaker) transition(to State, events []Event) []Event {
	from := b.state
	b.state = to
	b.generation++
	b.changedAt = b.now()
	b.trialsAdmitted = 0
	b.trialsSucceeded = 0
	if to == Closed {
		b.clearWindow()
	}

	e := b.event(EventStateTransition)
	e.From, e.To = from, to
	return append(events, e)
}

func (b *Breaker) clearWindow() {
	for i := range b.window {
		b.window[i] = false
	}
	b.pos, b.calls, b.failures = 0, 0, 0
}

func (b *Breaker) failureRate() float64 {
	if b.calls == 0 {
		return 0
	}
	return float64(b.failures) * 100 / float64(b.calls)
}

func (b *Breaker) event(t EventType) Event {
	return Event{Breaker: b.name, Type: t, State: b.state, At: b.now()}
}

// emit se llama sin mu tomado: un observer puede consultar el breaker.
func (b *Breaker) emit(events []Event) {
	for _, e := range events {
		for _, o := range b.observers {
			o(e)
		}
	}
}
