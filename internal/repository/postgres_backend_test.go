package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresBackend) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewPostgresBackend(db, zap.NewNop())
}

func TestPostgresBackend_Load(t *testing.T) {
	db, mock, b := setupMockDB(t)
	defer db.Close()

	raw, err := json.Marshal(sampleRecord())
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT record`).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(raw))

	rec, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_LoadNoRows(t *testing.T) {
	db, mock, b := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT record`).WillReturnError(sql.ErrNoRows)

	_, err := b.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_Save(t *testing.T) {
	db, mock, b := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO thinx_device_identity`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, b.Save(context.Background(), sampleRecord()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_SaveRecoversMissingTable(t *testing.T) {
	db, mock, b := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO thinx_device_identity`).
		WillReturnError(errors.New(`relation "thinx_device_identity" does not exist`))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS thinx_device_identity`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO thinx_device_identity`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewRecoveringStore(b, zap.NewNop())
	require.NoError(t, store.Save(context.Background(), sampleRecord()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
