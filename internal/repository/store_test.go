package repository

import (
	"context"
	"errors"
	"testing"

	"thinx-client/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyBackend 前 failures 次写入失败
type flakyBackend struct {
	failures  int
	reinitErr error
	saves     int
	reinits   int
	saved     models.StoredIdentity
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Load(ctx context.Context) (models.StoredIdentity, error) {
	if f.saves == 0 {
		return models.StoredIdentity{}, ErrNotFound
	}
	return f.saved, nil
}

func (f *flakyBackend) Save(ctx context.Context, rec models.StoredIdentity) error {
	f.saves++
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	f.saved = rec
	return nil
}

func (f *flakyBackend) Reinit(ctx context.Context) error {
	f.reinits++
	return f.reinitErr
}

func TestRecoveringStore_RetriesOnceAfterReinit(t *testing.T) {
	b := &flakyBackend{failures: 1}
	s := NewRecoveringStore(b, zap.NewNop())

	require.NoError(t, s.Save(context.Background(), sampleRecord()))
	assert.Equal(t, 2, b.saves)
	assert.Equal(t, 1, b.reinits)

	rec, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), rec)
}

func TestRecoveringStore_GivesUpAfterSecondFailure(t *testing.T) {
	b := &flakyBackend{failures: 2}
	s := NewRecoveringStore(b, zap.NewNop())

	err := s.Save(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, 2, b.saves)
	assert.Equal(t, 1, b.reinits)
}

func TestRecoveringStore_ReinitFailure(t *testing.T) {
	b := &flakyBackend{failures: 1, reinitErr: errors.New("format failed")}
	s := NewRecoveringStore(b, zap.NewNop())

	err := s.Save(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, 1, b.saves)
}

func TestRecoveringStore_LoadNotFound(t *testing.T) {
	s := NewRecoveringStore(&flakyBackend{}, zap.NewNop())

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
