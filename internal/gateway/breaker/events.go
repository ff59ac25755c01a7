package breaker

import (
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	EventStateTransition     EventType = "state_transition"
	EventFailureRateExceeded EventType = "failure_rate_exceeded"
	EventError               EventType = "error"
	EventCallNotPermitted    EventType = "call_not_permitted"
	EventReset               EventType = "reset"
)

// Event describe algo observable del breaker. From/To solo en transiciones,
// FailureRate solo en failure_rate_exceeded y Err solo en error.
type Event struct {
	Breaker     string
	Type        EventType
	State       State
	From        State
	To          State
	FailureRate float64
	Err         error
	At          time.Time
}

// Observer recibe los eventos de forma síncrona; no debe bloquear.
type Observer func(Event)

// LogObserver escribe cada evento en el logger con el nivel que le toca.
func LogObserver(log *zap.Logger) Observer {
	return func(e Event) {
		name := zap.String("breaker", e.Breaker)
		switch e.Type {
		case EventStateTransition:
			log.Warn("⚡ CircuitBreaker cambió de estado", name,
				zap.String("from", e.From.String()),
				zap.String("to", e.To.String()),
			)
		case EventFailureRateExceeded:
			log.Warn("⚠️ CircuitBreaker superó el umbral de fallos", name, zap.Float64("failure_rate", e.FailureRate))
		case EventError:
			log.Error("❌ Error en llamada protegida", name, zap.Error(e.Err))
		case EventCallNotPermitted:
			log.Warn("CircuitBreaker bloqueó la llamada", name, zap.String("state", e.State.String()))
		case EventReset:
			log.Info("CircuitBreaker reiniciado a CLOSED", name)
		}
	}
}
