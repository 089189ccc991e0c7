package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"thinx-client/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() models.StoredIdentity {
	return models.StoredIdentity{
		Alias:       "hall",
		Owner:       "owner-0001",
		APIKey:      "secret-api-key",
		UDID:        "u-123456",
		Update:      "http://cdn/x.bin",
		UpdateState: models.UpdateStateAwaitingConfirmation,
	}
}

func TestFileBackend_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thx.cfg")
	b := NewFileBackend(path)
	ctx := context.Background()

	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Save(ctx, sampleRecord()))

	rec, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), rec)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileBackend_CorruptRecordIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thx.cfg")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileBackend(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileBackend_ReinitRecoversMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "thx.cfg")
	b := NewFileBackend(path)
	ctx := context.Background()

	require.Error(t, b.Save(ctx, sampleRecord()))
	require.NoError(t, b.Reinit(ctx))
	require.NoError(t, b.Save(ctx, sampleRecord()))
}
