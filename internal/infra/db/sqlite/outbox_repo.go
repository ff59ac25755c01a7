package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/davicafu/usersync/internal/shared/domain"
)

// rowid es monotónico por inserción: el relayer publica en ese orden.
const (
	selectPendingOutbox = `
		SELECT id, aggregate_type, aggregate_id, event_type, partition_key, payload, created_at
		FROM outbox
		WHERE processed = 0
		ORDER BY rowid
		LIMIT ?`
	markOutboxProcessed = `UPDATE outbox SET processed = 1 WHERE id = ? AND processed = 0`
)

// OutboxRepoSQLite es el lado lector del outbox que escribe UserRepoSQLite.
type OutboxRepoSQLite struct {
	db *sql.DB
}

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db}
}

func (r *OutboxRepoSQLite) FetchPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, selectPendingOutbox, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	events := make([]domain.OutboxEvent, 0, limit)
	for rows.Next() {
		var (
			evt     domain.OutboxEvent
			id      string
			payload string // TEXT en SQLite
		)
		if err := rows.Scan(&id, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Key, &payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		if evt.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("outbox row with invalid id %q: %w", id, err)
		}
		evt.Payload = []byte(payload)
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkOutboxProcessed devuelve ErrOutboxEventNotFound si el evento no existe
// o ya estaba procesado.
func (r *OutboxRepoSQLite) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, markOutboxProcessed, id.String())
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
var _ domain.OutboxRepository = (*OutboxRepoSQLite)(nil)
