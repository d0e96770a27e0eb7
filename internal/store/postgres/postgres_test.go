package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellune/credits-service/internal/store"
)

type balanceDoc struct {
	UserKey string `json:"user_key"`
	Credits int64  `json:"credits"`
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestPostgresStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("SELECT v FROM kv WHERE").
			WithArgs("balance:u1").
			WillReturnRows(sqlmock.NewRows([]string{"v"}).
				AddRow([]byte(`{"user_key":"u1","credits":42}`)))

		var doc balanceDoc
		require.NoError(t, s.Get(ctx, "balance:u1", &doc))
		assert.Equal(t, int64(42), doc.Credits)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing maps to ErrNotFound", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("SELECT v FROM kv WHERE").
			WithArgs("balance:absent").
			WillReturnRows(sqlmock.NewRows([]string{"v"}))

		var doc balanceDoc
		assert.ErrorIs(t, s.Get(ctx, "balance:absent", &doc), store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Set(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO kv").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Set(ctx, "balance:u1", balanceDoc{UserKey: "u1", Credits: 1}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IndexRange(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT member FROM kv_index").
		WithArgs("idx:transactions:u1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"member"}).AddRow("t2").AddRow("t1"))

	members, err := s.IndexRange(ctx, "idx:transactions:u1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t1"}, members)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("commits the whole batch", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO kv").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO kv_index").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM kv_index").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		b := store.NewBatch().
			Set("balance:u1", balanceDoc{UserKey: "u1", Credits: 5}).
			IndexAdd("idx:transactions:u1", "t1", 100).
			IndexTrim("idx:transactions:u1", 10)
		require.NoError(t, s.Apply(ctx, b))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on op failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO kv").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		b := store.NewBatch().Set("balance:u1", balanceDoc{UserKey: "u1"})
		assert.Error(t, s.Apply(ctx, b))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
