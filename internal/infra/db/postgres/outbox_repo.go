package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/davicafu/usersync/internal/shared/domain"
)

// seq (BIGSERIAL) desempata eventos con el mismo created_at.
const (
	selectPendingOutbox = `
		SELECT id, aggregate_type, aggregate_id, event_type, partition_key, payload, created_at
		FROM outbox
		WHERE processed = false
		ORDER BY seq
		LIMIT $1`
	markOutboxProcessed = `UPDATE outbox SET processed = true WHERE id = $1 AND processed = false`
)

// OutboxRepoPostgres es el lado lector del outbox que escribe UserRepoPostgres.
type OutboxRepoPostgres struct {
	db *sql.DB
}

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db}
}

func (r *OutboxRepoPostgres) FetchPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, selectPendingOutbox, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	events := make([]domain.OutboxEvent, 0, limit)
	for rows.Next() {
		var evt domain.OutboxEvent
		// payload es JSONB; llega como []byte
		if err := rows.Scan(&evt.ID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Key, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkOutboxProcessed devuelve ErrOutboxEventNotFound si el evento no existe
// o ya estaba procesado.
func (r *OutboxRepoPostgres) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, markOutboxProcessed, id)
	if err != nil {
		return fmt.Errorf("mark outbox %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOutboxEventNotFound, id)
	}
	return nil
}

// Verificación estática
var _ domain.OutboxRepository = (*OutboxRepoPostgres)(nil)
