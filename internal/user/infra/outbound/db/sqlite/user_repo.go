package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	"github.com/davicafu/usersync/internal/user/domain"
)

type UserRepoSQLite struct {
	db *sql.DB
}

func NewUserRepoSQLite(db *sql.DB) *UserRepoSQLite {
	return &UserRepoSQLite{db: db}
}

// execer lo cumplen *sql.DB y *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ------------------ Helper DRY para insertar en outbox ------------------

func insertOutboxTx(ctx context.Context, tx *sql.Tx, evt sharedDomain.OutboxEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (id,aggregate_type,aggregate_id,event_type,partition_key,payload,created_at,processed)
		 VALUES (?,?,?,?,?,?,?,0)`,
		evt.ID.String(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Key, string(evt.Payload), evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// isUniqueViolation detecta el índice único de email.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
	}
	return false
}

func mapWriteErr(err error, email string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email %s", domain.ErrDuplicateResource, email)
	}
	return err
}

// ------------------ Métodos ------------------

func (r *UserRepoSQLite) Save(ctx context.Context, u *domain.User) error {
	return r.save(ctx, r.db, u)
}

func (r *UserRepoSQLite) save(ctx context.Context, ex execer, u *domain.User) error {
	if u.ID == 0 {
		res, err := ex.ExecContext(ctx,
			`INSERT INTO users (name,email,age,created_at) VALUES (?,?,?,?)`,
			u.Name, u.Email, ageValue(u.Age), u.CreatedAt,
		)
		if err != nil {
			return mapWriteErr(err, u.Email)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		u.ID = id
		return nil
	}

	res, err := ex.ExecContext(ctx,
		`UPDATE users SET name=?, email=?, age=? WHERE id=?`,
		u.Name, u.Email, ageValue(u.Age), u.ID,
	)
	if err != nil {
		return mapWriteErr(err, u.Email)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveWithEvent inserta/actualiza usuario y evento en transacción
func (r *UserRepoSQLite) SaveWithEvent(ctx context.Context, u *domain.User, evt sharedDomain.OutboxEvent) (err error) {
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

func (r *UserRepoSQLite) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, email, age, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *UserRepoSQLite) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, email, age, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *UserRepoSQLite) List(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, email, age, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepoSQLite) DeleteByID(ctx context.Context, id int64) error {
	return deleteUser(ctx, r.db, id)
}

// DeleteWithEvent elimina usuario y crea evento Outbox en transacción
func (r *UserRepoSQLite) DeleteWithEvent(ctx context.Context, id int64, evt sharedDomain.OutboxEvent) (err error) {
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

func deleteUser(ctx context.Context, ex execer, id int64) error {
	res, err := ex.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var age sql.NullInt64
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &age, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if age.Valid {
		a := int(age.Int64)
		u.Age = &a
	}
	return &u, nil
}

func ageValue(age *int) interface{} {
	if age == nil {
		return nil
	}
	return *age
}

// InitSQLite crea las tablas si no existen. El índice único de email es la
// garantía final de unicidad.
func InitSQLite(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		age INTEGER NULL,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		partition_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}

// Verificación estática
var (
	_ domain.UserStore   = (*UserRepoSQLite)(nil)
	_ domain.OutboxStore = (*UserRepoSQLite)(nil)
)
