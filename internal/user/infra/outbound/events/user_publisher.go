package events

import (
	"context"

	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
	sharedBus "github.com/davicafu/usersync/internal/shared/infra/platform/bus"
	"github.com/davicafu/usersync/internal/user/domain"
)

// UserEventPublisher adapta el bus genérico al puerto del dominio User.
// El bus usa UserEvent.PartitionKey() (el email) como key del mensaje.
type UserEventPublisher struct {
	bus sharedBus.EventBus
}

func NewUserEventPublisher(bus sharedBus.EventBus) *UserEventPublisher {
	return &UserEventPublisher{bus: bus}
}

func (p *UserEventPublisher) Publish(ctx context.Context, evt sharedEvents.UserEvent) error {
	return p.bus.Publish(ctx, evt)
}

// Verificación estática
var _ domain.EventPublisher = (*UserEventPublisher)(nil)
