package domain

import (
	"context"
	"errors"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
)

// ---------- Errores de dominio ----------
var (
	ErrInvalidData       = errors.New("invalid data")
	ErrDuplicateResource = errors.New("duplicate resource")
	ErrNotFound          = errors.New("resource not found")
)

// ---------- Interfaces (Ports) ----------

// UserStore define las operaciones persistentes para User.
type UserStore interface {
	// Save inserta si u.ID == 0 (y asigna el ID) o actualiza en otro caso.
	// Debe devolver ErrNotFound si el usuario a actualizar no existe y
	// ErrDuplicateResource si el email viola el índice único.
	Save(ctx context.Context, u *User) error

	// Debe devolver ErrNotFound si no existe.
	GetByID(ctx context.Context, id int64) (*User, error)

	// Debe devolver ErrNotFound si ningún usuario tiene ese email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// List devuelve todos los usuarios ordenados por ID.
	List(ctx context.Context) ([]*User, error)

	// Debe devolver ErrNotFound si el usuario no existe.
	DeleteByID(ctx context.Context, id int64) error
}

// OutboxStore lo implementan los stores capaces de escribir el usuario y su
// evento en la misma transacción.
type OutboxStore interface {
	SaveWithEvent(ctx context.Context, u *User, evt sharedDomain.OutboxEvent) error
	DeleteWithEvent(ctx context.Context, id int64, evt sharedDomain.OutboxEvent) error
}

// EventPublisher entrega un UserEvent al broker.
type EventPublisher interface {
	Publish(ctx context.Context, evt sharedEvents.UserEvent) error
}
