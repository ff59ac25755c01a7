package domain

import (
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
	"github.com/google/uuid"
)

const AggregateType = "user"

// User representa un usuario del sistema.
// El ID lo asigna el store al insertar y no cambia nunca.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Age       *int      `json:"age,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone evita que cache y store compartan punteros con el caller.
func (u *User) Clone() *User {
	c := *u
	if u.Age != nil {
		age := *u.Age
		c.Age = &age
	}
	return &c
}

// NewOutboxEvent empaqueta un UserEvent para la tabla outbox. AggregateID lo
// completa el store si el usuario aún no tiene ID.
func NewOutboxEvent(u *User, evt sharedEvents.UserEvent, payload []byte) sharedDomain.OutboxEvent {
	aggregateID := ""
	if u != nil && u.ID > 0 {
		aggregateID = fmt.Sprint(u.ID)
	}
	return sharedDomain.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: AggregateType,
		AggregateID:   aggregateID,
		EventType:     string(evt.Type),
		Key:           evt.PartitionKey(),
		Payload:       payload,
		CreatedAt:     evt.OccurredAt,
	}
}

// CacheKeyByID forma una key consistente para cache usando ID.
func CacheKeyByID(id int64) string {
	return fmt.Sprintf("user:id:%d", id)
}
