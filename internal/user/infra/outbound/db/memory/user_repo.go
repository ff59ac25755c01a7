package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	"github.com/davicafu/usersync/internal/user/domain"
)

// UserRepoMemory guarda usuarios en un mapa con un índice único por email.
// Devuelve siempre copias para que nadie mute el estado sin pasar por Save.
type UserRepoMemory struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]*domain.User
	byEmail map[string]int64
	outbox  []sharedDomain.OutboxEvent
}

func NewUserRepoMemory() *UserRepoMemory {
	return &UserRepoMemory{
		users:   make(map[int64]*domain.User),
		byEmail: make(map[string]int64),
	}
}

func (r *UserRepoMemory) Save(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(u)
}

func (r *UserRepoMemory) saveLocked(u *domain.User) error {
	if owner, ok := r.byEmail[u.Email]; ok && owner != u.ID {
		return fmt.Errorf("%w: email %s", domain.ErrDuplicateResource, u.Email)
	}

	if u.ID == 0 {
		r.nextID++
		u.ID = r.nextID
	} else {
		prev, ok := r.users[u.ID]
		if !ok {
			return domain.ErrNotFound
		}
		delete(r.byEmail, prev.Email)
	}

	r.users[u.ID] = u.Clone()
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *UserRepoMemory) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u.Clone(), nil
}

func (r *UserRepoMemory) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.users[id].Clone(), nil
}

func (r *UserRepoMemory) List(ctx context.Context) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *UserRepoMemory) DeleteByID(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(id)
}

func (r *UserRepoMemory) deleteLocked(id int64) error {
	u, ok := r.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.byEmail, u.Email)
	delete(r.users, id)
	return nil
}

// ------------------ Outbox ------------------

func (r *UserRepoMemory) SaveWithEvent(ctx context.Context, u *domain.User, evt sharedDomain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.saveLocked(u); err != nil {
		return err
	}
	if evt.AggregateID == "" {
		evt.AggregateID = strconv.FormatInt(u.ID, 10)
	}
	r.outbox = append(r.outbox, evt)
	return nil
}

func (r *UserRepoMemory) DeleteWithEvent(ctx context.Context, id int64, evt sharedDomain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.deleteLocked(id); err != nil {
		return err
	}
	r.outbox = append(r.outbox, evt)
	return nil
}

func (r *UserRepoMemory) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []sharedDomain.OutboxEvent
	for _, evt := range r.outbox {
		if evt.Processed {
			continue
		}
		pending = append(pending, evt)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (r *UserRepoMemory) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.outbox {
		if r.outbox[i].ID == id && !r.outbox[i].Processed {
			r.outbox[i].Processed = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", sharedDomain.ErrOutboxEventNotFound, id)
}

// Verificación estática
var (
	_ domain.UserStore              = (*UserRepoMemory)(nil)
	_ domain.OutboxStore            = (*UserRepoMemory)(nil)
	_ sharedDomain.OutboxRepository = (*UserRepoMemory)(nil)
)
