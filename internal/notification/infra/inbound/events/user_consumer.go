package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
	sharedUtils "github.com/davicafu/usersync/internal/shared/infra/utils"
)

// UserConsumer traduce mensajes del topic user-events en llamadas al handler.
// Los eventId ya procesados se recuerdan durante dedupeTTL; pasado ese tiempo
// una re-entrega vuelve a notificar.
type UserConsumer struct {
	handler sharedEvents.UserEventHandler
	seen    *gocache.Cache
	log     *zap.Logger
}

func NewUserConsumer(handler sharedEvents.UserEventHandler, dedupeTTL time.Duration, logger *zap.Logger) *UserConsumer {
	if dedupeTTL <= 0 {
		dedupeTTL = 10 * time.Minute
	}
	return &UserConsumer{
		handler: handler,
		seen:    gocache.New(dedupeTTL, 2*dedupeTTL),
		log:     logger,
	}
}

func (c *UserConsumer) HandleMessage(ctx context.Context, key string, payload []byte) error {
	evt, err := sharedEvents.DecodeUserEvent(payload)
	if err != nil {
		c.log.Warn("Failed to unmarshal user event", zap.String("key", key), zap.Error(err))
		return sharedUtils.Permanent(err)
	}

	id := evt.ID.String()
	if evt.ID != uuid.Nil {
		if _, dup := c.seen.Get(id); dup {
			c.log.Info("Evento duplicado ignorado", zap.String("event_id", id), zap.String("email", evt.Email))
			return nil
		}
	}

	if err := evt.Dispatch(ctx, c.handler); err != nil {
		if errors.Is(err, sharedEvents.ErrUnknownEventType) {
			c.log.Warn("Unknown event type", zap.String("type", string(evt.Type)), zap.String("event_id", id))
			return nil
		}
		return err
	}

	if evt.ID != uuid.Nil {
		c.seen.SetDefault(id, struct{}{})
	}
	c.log.Debug("User event handled",
		zap.String("event_id", id),
		zap.String("event_type", string(evt.Type)),
		zap.String("email", evt.Email),
	)
	return nil
}
