package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Estos son contratos de integración, NO entidades del dominio.
// Se definen planos para intercambio entre contextos (user -> notification).

// UserTopic es el topic donde se publican los cambios de ciclo de vida de User.
const UserTopic = "user-events"

// EventType es el conjunto cerrado de cambios de ciclo de vida.
type EventType string

const (
	UserCreated EventType = "CREATED"
	UserUpdated EventType = "UPDATED"
	UserDeleted EventType = "DELETED"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedEvent   = errors.New("malformed event")
)

// ParseEventType valida un tipo recibido por la red.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case UserCreated, UserUpdated, UserDeleted:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
}

// UserEvent se produce una vez por cada mutación exitosa de un User.
// ID y OccurredAt son metadatos de entrega (dedupe, logs).
type UserEvent struct {
	ID         uuid.UUID `json:"eventId"`
	Email      string    `json:"email"`
	Type       EventType `json:"eventType"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewUserEvent(email string, t EventType) UserEvent {
	return UserEvent{
		ID:         uuid.New(),
		Email:      email,
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}

// PartitionKey: todos los eventos de un mismo email van a la misma partición.
func (e UserEvent) PartitionKey() string {
	return e.Email
}

// UserEventHandler se implementa una vez por consumidor. Añadir un tipo de
// evento obliga a añadir un método aquí, y por tanto a cada consumidor.
type UserEventHandler interface {
	OnCreated(ctx context.Context, evt UserEvent) error
	OnUpdated(ctx context.Context, evt UserEvent) error
	OnDeleted(ctx context.Context, evt UserEvent) error
}

// Dispatch enruta el evento al método del handler según su tipo.
func (e UserEvent) Dispatch(ctx context.Context, h UserEventHandler) error {
	switch e.Type {
	case UserCreated:
		return h.OnCreated(ctx, e)
	case UserUpdated:
		return h.OnUpdated(ctx, e)
	case UserDeleted:
		return h.OnDeleted(ctx, e)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
}

// DecodeUserEvent deserializa un payload del broker. El tipo no se valida
// aquí: un tipo desconocido no es un payload mal formado.
func DecodeUserEvent(payload []byte) (UserEvent, error) {
	var evt UserEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return UserEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.Email == "" {
		return UserEvent{}, fmt.Errorf("%w: missing email", ErrMalformedEvent)
	}
	return evt, nil
}
