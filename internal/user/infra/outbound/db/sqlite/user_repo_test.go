package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraSQLite "github.com/davicafu/usersync/internal/infra/db/sqlite"
	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	"github.com/davicafu/usersync/internal/user/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Cada conexión a :memory: es una base distinta.
	db.SetMaxOpenConns(1)
	require.NoError(t, InitSQLite(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUserRepoSQLite_CRUD(t *testing.T) {
	repo := NewUserRepoSQLite(newTestDB(t))
	ctx := context.Background()

	age := 33
	u := &domain.User{Name: "Ana", Email: "a@x.com", Age: &age, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, repo.Save(ctx, u))
	assert.Equal(t, int64(1), u.ID)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	require.NotNil(t, got.Age)
	assert.Equal(t, 33, *got.Age)
	assert.True(t, u.CreatedAt.Equal(got.CreatedAt))

	got.Email = "b@x.com"
	got.Age = nil
	require.NoError(t, repo.Save(ctx, got))

	byEmail, err := repo.FindByEmail(ctx, "b@x.com")
	require.NoError(t, err)
	assert.Nil(t, byEmail.Age)

	_, err = repo.FindByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.DeleteByID(ctx, u.ID))
	assert.ErrorIs(t, repo.DeleteByID(ctx, u.ID), domain.ErrNotFound)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestUserRepoSQLite_UniqueEmailBackstop(t *testing.T) {
	repo := NewUserRepoSQLite(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.User{Name: "Ana", Email: "a@x.com", CreatedAt: time.Now()}))
	err := repo.Save(ctx, &domain.User{Name: "Otra", Email: "a@x.com", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrDuplicateResource)

	err = repo.Save(ctx, &domain.User{ID: 77, Name: "Nadie", Email: "n@x.com"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserRepoSQLite_OutboxIsAtomic(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepoSQLite(db)
	outbox := infraSQLite.NewOutboxRepoSQLite(db)
	ctx := context.Background()

	u := &domain.User{Name: "Ana", Email: "a@x.com", CreatedAt: time.Now().UTC()}
	created := sharedDomain.OutboxEvent{ID: uuid.New(), AggregateType: "user", EventType: "CREATED", Key: "a@x.com", Payload: []byte(`{"email":"a@x.com","eventType":"CREATED"}`), CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.SaveWithEvent(ctx, u, created))

	// Un duplicado no deja ni usuario ni evento.
	dup := &domain.User{Name: "Dup", Email: "a@x.com", CreatedAt: time.Now().UTC()}
	err := repo.SaveWithEvent(ctx, dup, sharedDomain.OutboxEvent{ID: uuid.New(), AggregateType: "user", EventType: "CREATED", Key: "a@x.com", Payload: []byte(`{}`), CreatedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, domain.ErrDuplicateResource)
	assert.Zero(t, dup.ID)

	deleted := sharedDomain.OutboxEvent{ID: uuid.New(), AggregateType: "user", AggregateID: "1", EventType: "DELETED", Key: "a@x.com", Payload: []byte(`{"email":"a@x.com","eventType":"DELETED"}`), CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.DeleteWithEvent(ctx, u.ID, deleted))

	pending, err := outbox.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, created.ID, pending[0].ID)
	assert.Equal(t, "1", pending[0].AggregateID)
	assert.Equal(t, "a@x.com", pending[0].Key)
	assert.JSONEq(t, string(created.Payload), string(pending[0].Payload))
	assert.Equal(t, "DELETED", pending[1].EventType)

	require.NoError(t, outbox.MarkOutboxProcessed(ctx, created.ID))
	pending, err = outbox.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	assert.ErrorIs(t, outbox.MarkOutboxProcessed(ctx, uuid.New()), sharedDomain.ErrOutboxEventNotFound)
	// marcar dos veces no es idempotente: el relayer corta el lote
	assert.ErrorIs(t, outbox.MarkOutboxProcessed(ctx, created.ID), sharedDomain.ErrOutboxEventNotFound)
}
