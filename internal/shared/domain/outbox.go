package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent representa un evento pendiente de publicar en el broker.
type OutboxEvent struct {
	ID            uuid.UUID `json:"id"`
	AggregateType string    `json:"aggregate_type"` // ej. "user"
	AggregateID   string    `json:"aggregate_id"`
	EventType     string    `json:"event_type"` // ej. "CREATED"
	Key           string    `json:"key"`        // partition key con la que se publicará
	Payload       []byte    `json:"payload"`    // JSON ya serializado
	CreatedAt     time.Time `json:"created_at"`
	Processed     bool      `json:"processed"` // si ya se publicó
}

// OutboxRepository es lo mínimo que necesita el relayer para drenar la tabla outbox.
type OutboxRepository interface {
	// FetchPendingOutbox obtiene los eventos no procesados en orden de creación, hasta un máximo
	FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)

	// MarkOutboxProcessed marca un evento como procesado
	MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error
}

// EventMetadata describe a qué topic va un tipo de evento.
type EventMetadata struct {
	Topic string
}

// EventRegistry: event_type -> metadata. Un tipo ausente no se relaya.
type EventRegistry map[string]EventMetadata
