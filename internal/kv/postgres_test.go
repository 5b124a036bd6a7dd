package kv

import (
	"context"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresGet(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
		WithArgs("pg:1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"id":"1"}`)))
	mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
		WithArgs("pg:2").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	got, err := store.Get(context.Background(), "pg:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1"}`, string(got))

	_, err = store.Get(context.Background(), "pg:2")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetCastsToJSONB(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO kv_store \(key, value, updated_at\) VALUES \(\$1, \$2::jsonb, NOW\(\)\)`).
		WithArgs("user:u1", `{"id":"u1"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Set(context.Background(), "user:u1", []byte(`{"id":"u1"}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByPrefixEscapes(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT key, value FROM kv_store WHERE key LIKE \$1`).
		WithArgs("pg:%").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("pg:1", []byte(`{"id":"1"}`)).
			AddRow("pg:2", []byte(`{"id":"2"}`)))

	entries, err := store.GetByPrefix(context.Background(), "pg:")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pg:2", entries[1].Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMGetPreservesOrder(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT key, value FROM kv_store WHERE key = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("b", []byte(`2`)))

	vals, err := store.MGet(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Nil(t, vals[0])
	assert.Equal(t, "2", string(vals[1]))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateLocksAndWrites(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("favorites:u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
		WithArgs("favorites:u1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`["pg-1"]`)))
	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs("favorites:u1", `["pg-1","pg-2"]`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Update(context.Background(), "favorites:u1", func(cur []byte, exists bool) ([]byte, error) {
		require.True(t, exists)
		assert.JSONEq(t, `["pg-1"]`, string(cur))
		return []byte(`["pg-1","pg-2"]`), nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateDeletesOnNil(t *testing.T) {
	store, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT value FROM kv_store`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`1`)))
	mock.ExpectExec(`DELETE FROM kv_store WHERE key = \$1`).
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Update(context.Background(), "k", func([]byte, bool) ([]byte, error) { return nil, nil }))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresContractIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`DELETE FROM kv_store`)
	require.NoError(t, err)

	runStoreContract(t, NewPostgres(db))
}
