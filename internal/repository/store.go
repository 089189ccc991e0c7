package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"thinx-client/internal/models"

	"go.uber.org/zap"
)

// ErrNotFound 尚无持久化的身份记录（首次启动）
var ErrNotFound = errors.New("identity not found")

// IdentityStore 身份存储契约
type IdentityStore interface {
	Load(ctx context.Context) (models.StoredIdentity, error)
	Save(ctx context.Context, rec models.StoredIdentity) error
}

// Backend 存储后端：可在写入失败后重新初始化
type Backend interface {
	IdentityStore
	Reinit(ctx context.Context) error
	Name() string
}

// RecoveringStore 串行化写入；写入失败时重新初始化后端并重试一次
type RecoveringStore struct {
	mu      sync.Mutex
	backend Backend
	logger  *zap.Logger
}

// NewRecoveringStore 创建带恢复能力的身份存储
func NewRecoveringStore(backend Backend, logger *zap.Logger) *RecoveringStore {
	return &RecoveringStore{
		backend: backend,
		logger:  logger,
	}
}

// Load 读取身份记录
func (s *RecoveringStore) Load(ctx context.Context) (models.StoredIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.backend.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Info("No stored device identity so far", zap.String("backend", s.backend.Name()))
		} else {
			s.logger.Warn("Failed to load device identity", zap.String("backend", s.backend.Name()), zap.Error(err))
		}
		return models.StoredIdentity{}, err
	}
	return rec, nil
}

// Save 写入身份记录
func (s *RecoveringStore) Save(ctx context.Context, rec models.StoredIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.backend.Save(ctx, rec)
	if err == nil {
		return nil
	}

	s.logger.Warn("Cannot save device identity, reinitializing storage",
		zap.String("backend", s.backend.Name()),
		zap.Error(err),
	)
	if rerr := s.backend.Reinit(ctx); rerr != nil {
		s.logger.Error("Storage reinitialization failed", zap.String("backend", s.backend.Name()), zap.Error(rerr))
		return fmt.Errorf("%w: reinit %s: %v", models.ErrPersistence, s.backend.Name(), rerr)
	}

	if err := s.backend.Save(ctx, rec); err != nil {
		s.logger.Error("Retry save failed", zap.String("backend", s.backend.Name()), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", models.ErrPersistence, s.backend.Name(), err)
	}
	return nil
}
