package bus

import (
	"context"
	"encoding/json"
)

type Keyer interface {
	PartitionKey() string
}

// La semántica de topic/nombre y formato del payload la decides en los adapters.
type EventBus interface {
	Publish(ctx context.Context, event interface{}) error
}

// RawEvent es un evento ya serializado (ej. leído de la tabla outbox) que se
// publica tal cual, conservando su partition key.
type RawEvent struct {
	Key     string
	Payload json.RawMessage
}

func (e RawEvent) PartitionKey() string {
	return e.Key
}

func (e RawEvent) MarshalJSON() ([]byte, error) {
	if len(e.Payload) == 0 {
		return []byte("null"), nil
	}
	return e.Payload, nil
}

// Verificación estática
var _ Keyer = RawEvent{}
