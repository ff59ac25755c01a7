package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/usersync/internal/notification/domain"
)

// DeliveryLogRepo implementa DeliveryLog sobre ClickHouse.
type DeliveryLogRepo struct {
	db *sql.DB
}

// NewDeliveryLogRepo abre la conexión y comprueba que responde.
func NewDeliveryLogRepo(addr string, dbName string) (*DeliveryLogRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return NewDeliveryLogRepoFromDB(conn), nil
}

func NewDeliveryLogRepoFromDB(db *sql.DB) *DeliveryLogRepo {
	return &DeliveryLogRepo{db: db}
}

func (r *DeliveryLogRepo) Close() error {
	return r.db.Close()
}

func (r *DeliveryLogRepo) Record(ctx context.Context, a domain.DeliveryAttempt) error {
	return r.RecordBatch(ctx, []domain.DeliveryAttempt{a})
}

// RecordBatch inserta varios intentos en un único lote.
func (r *DeliveryLogRepo) RecordBatch(ctx context.Context, attempts []domain.DeliveryAttempt) error {
	// ClickHouse funciona mejor con inserciones en lotes.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO notification_deliveries (event_id, email, event_type, subject, success, error, at)")
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, a := range attempts {
		at := a.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, a.EventID, a.Email, a.EventType, a.Subject, boolToUInt8(a.Success), a.Error, at); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to exec statement for delivery to %s: %w", a.Email, err)
		}
	}
	return tx.Commit()
}

func (r *DeliveryLogRepo) Recent(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, email, event_type, subject, success, error, at
		FROM (
			SELECT * FROM notification_deliveries ORDER BY at DESC LIMIT ?
		)
		ORDER BY at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		var success uint8
		if err := rows.Scan(&a.EventID, &a.Email, &a.EventType, &a.Subject, &success, &a.Error, &a.At); err != nil {
			return nil, err
		}
		a.Success = success == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

// FailureRate devuelve la proporción de envíos fallidos en [start, end].
func (r *DeliveryLogRepo) FailureRate(ctx context.Context, start, end time.Time) (float64, error) {
	var rate sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT countIf(success = 0) / count() FROM notification_deliveries WHERE at BETWEEN ? AND ?`,
		start, end,
	).Scan(&rate)
	if err != nil {
		return 0, err
	}
	if !rate.Valid {
		return 0, nil
	}
	return rate.Float64, nil
}

// InitSchema crea la tabla si no existe. Se particiona por mes.
func (r *DeliveryLogRepo) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS notification_deliveries (
			event_id   String,
			email      String,
			event_type LowCardinality(String),
			subject    String,
			success    UInt8,
			error      String,
			at         DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(at)
		ORDER BY (email, at);
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Verificación estática de la interfaz.
var _ domain.DeliveryLog = (*DeliveryLogRepo)(nil)
