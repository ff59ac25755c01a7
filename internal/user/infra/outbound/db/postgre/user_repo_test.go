package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/davicafu/usersync/internal/shared/domain"
	userDomain "github.com/davicafu/usersync/internal/user/domain"
)

func newMockRepo(t *testing.T) (*UserRepoPostgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewUserRepoPostgres(db), mock
}

var userColumns = []string{"id", "name", "email", "age", "created_at"}

func TestUserRepoPostgres_InsertReturnsID(t *testing.T) {
	repo, mock := newMockRepo(t)
	age := 30
	u := &userDomain.User{Name: "Ana", Email: "a@x.com", Age: &age, CreatedAt: time.Now().UTC()}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (name, email, age, created_at)")).
		WithArgs("Ana", "a@x.com", 30, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, repo.Save(context.Background(), u))
	assert.Equal(t, int64(7), u.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoPostgres_UniqueViolationIsDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "users_email_key"})
	err := repo.Save(context.Background(), &userDomain.User{Name: "Ana", Email: "a@x.com"})
	assert.ErrorIs(t, err, userDomain.ErrDuplicateResource)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET")).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})
	err = repo.Save(context.Background(), &userDomain.User{ID: 3, Name: "Ana", Email: "a@x.com"})
	assert.ErrorIs(t, err, userDomain.ErrDuplicateResource)

	// otros errores de Postgres pasan tal cual
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pgconn.PgError{Code: "23514"})
	err = repo.Save(context.Background(), &userDomain.User{Name: "Ana", Email: "a@x.com"})
	assert.NotErrorIs(t, err, userDomain.ErrDuplicateResource)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoPostgres_UpdateMissingIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET name=$1, email=$2, age=$3 WHERE id=$4")).
		WithArgs("Ana", "a@x.com", nil, int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Save(context.Background(), &userDomain.User{ID: 99, Name: "Ana", Email: "a@x.com"})
	assert.ErrorIs(t, err, userDomain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoPostgres_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(1), "Ana", "a@x.com", int64(30), created))
	u, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", u.Email)
	require.NotNil(t, u.Age)
	assert.Equal(t, 30, *u.Age)
	assert.Equal(t, created, u.CreatedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(userColumns))
	_, err = repo.GetByID(context.Background(), 2)
	assert.ErrorIs(t, err, userDomain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoPostgres_ListAndFindByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users ORDER BY id")).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(int64(1), "Ana", "a@x.com", nil, now).
			AddRow(int64(2), "Bea", "b@x.com", int64(41), now))
	users, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Nil(t, users[0].Age)
	assert.Equal(t, "b@x.com", users[1].Email)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("zz@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns))
	_, err = repo.FindByEmail(context.Background(), "zz@x.com")
	assert.ErrorIs(t, err, userDomain.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoPostgres_DeleteMissingIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id=$1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.DeleteByID(context.Background(), 5), userDomain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoPostgres_SaveWithEventIsTransactional(t *testing.T) {
	repo, mock := newMockRepo(t)
	u := &userDomain.User{Name: "Ana", Email: "a@x.com", CreatedAt: time.Now().UTC()}
	evt := sharedDomain.OutboxEvent{ID: uuid.New(), AggregateType: "user", EventType: "CREATED", Key: "a@x.com", Payload: []byte(`{}`), CreatedAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(evt.ID, "user", "4", "CREATED", "a@x.com", evt.Payload, evt.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveWithEvent(context.Background(), u, evt))
	assert.Equal(t, int64(4), u.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoPostgres_SaveWithEventRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	u := &userDomain.User{Name: "Ana", Email: "a@x.com"}
	evt := sharedDomain.OutboxEvent{ID: uuid.New(), EventType: "CREATED"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveWithEvent(context.Background(), u, evt)
	require.Error(t, err)
	assert.Equal(t, int64(0), u.ID, "un insert revertido no deja ID")
	assert.NoError(t, mock.ExpectationsWereMet())
}
