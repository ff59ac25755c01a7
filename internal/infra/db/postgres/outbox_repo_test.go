package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/usersync/internal/shared/domain"
)

func TestOutboxRepoPostgres_FetchPendingInSeqOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewOutboxRepoPostgres(db)

	id1, id2 := uuid.New(), uuid.New()
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "partition_key", "payload", "created_at"}).
		AddRow(id1.String(), "user", "1", "CREATED", "a@x.com", []byte(`{"eventType":"CREATED"}`), now).
		AddRow(id2.String(), "user", "1", "UPDATED", "a@x.com", []byte(`{"eventType":"UPDATED"}`), now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM outbox")).
		WithArgs(10).
		WillReturnRows(rows)

	events, err := repo.FetchPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, id1, events[0].ID)
	assert.Equal(t, "a@x.com", events[0].Key)
	assert.JSONEq(t, `{"eventType":"UPDATED"}`, string(events[1].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepoPostgres_MarkProcessed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewOutboxRepoPostgres(db)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET processed = true")).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkOutboxProcessed(context.Background(), id))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET processed = true")).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.MarkOutboxProcessed(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrOutboxEventNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
