package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
	sharedCache "github.com/davicafu/usersync/internal/shared/infra/platform/cache"
	sharedUtils "github.com/davicafu/usersync/internal/shared/infra/utils"
	"github.com/davicafu/usersync/internal/user/domain"
)

const defaultCacheTTL = 5 * time.Minute

// UserService define los casos de uso relacionados con User.
// Orden de cada mutación: validar -> persistir -> publicar. Si la
// publicación falla el cambio persistido NO se deshace.
type UserService struct {
	store    domain.UserStore
	checks   *UserChecks
	cache    sharedCache.Cache
	fills    *sharedCache.FillGuard
	events   domain.EventPublisher
	outbox   domain.OutboxStore
	cacheTTL time.Duration
	log      *zap.Logger
}

type Option func(*UserService)

// WithOutbox escribe cada evento en la misma transacción que el usuario;
// la publicación la hace después el relayer.
func WithOutbox(outbox domain.OutboxStore) Option {
	return func(s *UserService) { s.outbox = outbox }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *UserService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// NewUserService constructor
func NewUserService(store domain.UserStore, cache sharedCache.Cache, events domain.EventPublisher, log *zap.Logger, opts ...Option) *UserService {
	s := &UserService{
		store:    store,
		checks:   NewUserChecks(store),
		cache:    cache,
		fills:    &sharedCache.FillGuard{},
		events:   events,
		cacheTTL: defaultCacheTTL,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (sharedEvents.UserEvent, error) {
	if err := s.checks.ValidateCreate(req); err != nil {
		return sharedEvents.UserEvent{}, err
	}
	if err := s.checks.EnsureEmailUniqueForCreate(ctx, req.Email); err != nil {
		return sharedEvents.UserEvent{}, err
	}

	user := &domain.User{
		Name:      req.Name,
		Email:     req.Email,
		Age:       req.Age,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	evt := sharedEvents.NewUserEvent(user.Email, sharedEvents.UserCreated)

	if err := s.save(ctx, user, evt); err != nil {
		return sharedEvents.UserEvent{}, err
	}

	s.log.Info("✅ Usuario creado", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	s.publish(ctx, evt)
	return evt, nil
}

func (s *UserService) UpdateUser(ctx context.Context, id int64, req *UpdateUserRequest) (sharedEvents.UserEvent, error) {
	if err := s.checks.ValidateID(id); err != nil {
		return sharedEvents.UserEvent{}, err
	}
	if err := s.checks.ValidateUpdate(req); err != nil {
		return sharedEvents.UserEvent{}, err
	}

	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return sharedEvents.UserEvent{}, err
	}
	if err := s.checks.EnsureEmailUniqueForUpdate(ctx, req.Email, id); err != nil {
		return sharedEvents.UserEvent{}, err
	}

	user.Email = req.Email
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Age != nil {
		age := *req.Age
		user.Age = &age
	}

	evt := sharedEvents.NewUserEvent(user.Email, sharedEvents.UserUpdated)
	if err := s.save(ctx, user, evt); err != nil {
		return sharedEvents.UserEvent{}, err
	}
	s.fills.Invalidate(ctx, s.cache, domain.CacheKeyByID(id), s.log)

	s.log.Info("✅ Usuario actualizado", zap.Int64("user_id", id), zap.String("email", user.Email))
	s.publish(ctx, evt)
	return evt, nil
}

func (s *UserService) DeleteUser(ctx context.Context, id int64) (sharedEvents.UserEvent, error) {
	if err := s.checks.ValidateID(id); err != nil {
		return sharedEvents.UserEvent{}, err
	}

	// El email se captura antes de borrar: el evento DELETED lo necesita.
	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return sharedEvents.UserEvent{}, err
	}
	evt := sharedEvents.NewUserEvent(user.Email, sharedEvents.UserDeleted)

	if s.outbox != nil {
		out, err := s.outboxEvent(user, evt)
		if err != nil {
			return sharedEvents.UserEvent{}, err
		}
		err = s.outbox.DeleteWithEvent(ctx, id, out)
		if err != nil {
			return sharedEvents.UserEvent{}, err
		}
	} else if err := s.store.DeleteByID(ctx, id); err != nil {
		return sharedEvents.UserEvent{}, err
	}
	s.fills.Invalidate(ctx, s.cache, domain.CacheKeyByID(id), s.log)

	s.log.Info("🗑️ Usuario eliminado", zap.Int64("user_id", id), zap.String("email", user.Email))
	s.publish(ctx, evt)
	return evt, nil
}

// GetUser obtiene un usuario (primero intenta desde cache).
func (s *UserService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	if err := s.checks.ValidateID(id); err != nil {
		return nil, err
	}

	// 1. Intentar cache
	key := domain.CacheKeyByID(id)
	if s.cache != nil {
		var u domain.User
		if ok, err := s.cache.Get(ctx, key, &u); err == nil && ok {
			return &u, nil
		} else if err != nil {
			s.log.Debug("Cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	// 2. Ir al store con reintentos; un NotFound no se reintenta.
	// La generación se toma antes de leer.
	gen := s.fills.Generation()
	var user *domain.User
	err := sharedUtils.Retry(ctx, 3, 100*time.Millisecond, func() error {
		var err error
		user, err = s.store.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return sharedUtils.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	// 3. Actualizar cache en background sin bloquear la respuesta
	s.fills.AsyncSet(s.cache, gen, key, user.Clone(), s.cacheTTL, s.log)
	return user, nil
}

// ListUsers devuelve todos los usuarios.
func (s *UserService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.store.List(ctx)
}

// EmailExists: un email vacío nunca existe.
func (s *UserService) EmailExists(ctx context.Context, email string) (bool, error) {
	if strings.TrimSpace(email) == "" {
		return false, nil
	}
	_, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// save persiste el usuario, y en modo outbox también su evento.
func (s *UserService) save(ctx context.Context, u *domain.User, evt sharedEvents.UserEvent) error {
	if s.outbox == nil {
		return s.store.Save(ctx, u)
	}
	out, err := s.outboxEvent(u, evt)
	if err != nil {
		return err
	}
	return s.outbox.SaveWithEvent(ctx, u, out)
}

func (s *UserService) outboxEvent(u *domain.User, evt sharedEvents.UserEvent) (sharedDomain.OutboxEvent, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return sharedDomain.OutboxEvent{}, fmt.Errorf("marshal outbox payload: %w", err)
	}
	return domain.NewOutboxEvent(u, evt, payload), nil
}

// publish nunca devuelve error: el estado ya está persistido y el fallo de
// transporte solo se registra.
func (s *UserService) publish(ctx context.Context, evt sharedEvents.UserEvent) {
	if s.outbox != nil || s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.log.Error("❌ TransportFailure publicando evento; el cambio ya está persistido",
			zap.String("event_id", evt.ID.String()),
			zap.String("event_type", string(evt.Type)),
			zap.String("email", evt.Email),
			zap.Error(err),
		)
	}
}
