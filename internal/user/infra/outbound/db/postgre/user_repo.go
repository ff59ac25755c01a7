package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	userDomain "github.com/davicafu/usersync/internal/user/domain"
)

const uniqueViolation = "23505"

type UserRepoPostgres struct {
	db *sql.DB
}

func NewUserRepoPostgres(db *sql.DB) *UserRepoPostgres {
	return &UserRepoPostgres{db: db}
}

// queryer lo cumplen *sql.DB y *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ------------------ Helper DRY para insertar en outbox ------------------

func insertOutboxTx(ctx context.Context, tx *sql.Tx, evt sharedDomain.OutboxEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, partition_key, payload, created_at, processed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false)`,
		evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Key, evt.Payload, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func mapWriteErr(err error, email string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: email %s", userDomain.ErrDuplicateResource, email)
	}
	return err
}

// ------------------ CRUD + Outbox ------------------

func (r *UserRepoPostgres) Save(ctx context.Context, u *userDomain.User) error {
	return r.save(ctx, r.db, u)
}

func (r *UserRepoPostgres) save(ctx context.Context, q queryer, u *userDomain.User) error {
	if u.ID == 0 {
		var id int64
		err := q.QueryRowContext(ctx,
			`INSERT INTO users (name, email, age, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
			u.Name, u.Email, u.Age, u.CreatedAt,
		).Scan(&id)
		if err != nil {
			return mapWriteErr(err, u.Email)
		}
		u.ID = id
		return nil
	}

	res, err := q.ExecContext(ctx,
		`UPDATE users SET name=$1, email=$2, age=$3 WHERE id=$4`,
		u.Name, u.Email, u.Age, u.ID,
	)
	if err != nil {
		return mapWriteErr(err, u.Email)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return userDomain.ErrNotFound
	}
	return nil
}

// SaveWithEvent inserta/actualiza usuario y evento en transacción
func (r *UserRepoPostgres) SaveWithEvent(ctx context.Context, u *userDomain.User, evt sharedDomain.OutboxEvent) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	wasNew := u.ID == 0
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			if wasNew {
				u.ID = 0
			}
		}
	}()

	if err = r.save(ctx, tx, u); err != nil {
		return err
	}
	if evt.AggregateID == "" {
		evt.AggregateID = strconv.FormatInt(u.ID, 10)
	}
	if err = insertOutboxTx(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *UserRepoPostgres) GetByID(ctx context.Context, id int64) (*userDomain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, email, age, created_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *UserRepoPostgres) FindByEmail(ctx context.Context, email string) (*userDomain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, email, age, created_at FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (r *UserRepoPostgres) List(ctx context.Context) ([]*userDomain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, email, age, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*userDomain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepoPostgres) DeleteByID(ctx context.Context, id int64) error {
	return deleteUser(ctx, r.db, id)
}

// DeleteWithEvent elimina usuario y crea evento Outbox en transacción
func (r *UserRepoPostgres) DeleteWithEvent(ctx context.Context, id int64, evt sharedDomain.OutboxEvent) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = deleteUser(ctx, tx, id); err != nil {
		return err
	}
	if err = insertOutboxTx(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteUser(ctx context.Context, q queryer, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return userDomain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*userDomain.User, error) {
	var u userDomain.User
	var age sql.NullInt32
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &age, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userDomain.ErrNotFound
		}
		return nil, err
	}
	if age.Valid {
		a := int(age.Int32)
		u.Age = &a
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// InitPostgres crea las tablas. seq ordena el outbox por inserción.
func InitPostgres(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(50) NOT NULL,
		email TEXT UNIQUE NOT NULL,
		age INTEGER NULL CHECK (age BETWEEN 1 AND 150),
		created_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS outbox (
		seq BIGSERIAL,
		id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		partition_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE
	)`)
	return err
}

// Verificación estática
var (
	_ userDomain.UserStore   = (*UserRepoPostgres)(nil)
	_ userDomain.OutboxStore = (*UserRepoPostgres)(nil)
)
