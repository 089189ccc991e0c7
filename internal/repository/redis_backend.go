package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"thinx-client/internal/models"
)

// DefaultIdentityKey 默认身份记录键
const DefaultIdentityKey = "thinx:device:identity"

// RedisBackend 将身份记录保存为单个 JSON 字符串
type RedisBackend struct {
	kv  KV
	key string
}

// NewRedisBackend 创建 Redis 后端
func NewRedisBackend(kv KV, key string) *RedisBackend {
	if key == "" {
		key = DefaultIdentityKey
	}
	return &RedisBackend{kv: kv, key: key}
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Load(ctx context.Context) (models.StoredIdentity, error) {
	var rec models.StoredIdentity
	raw, err := r.kv.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return rec, ErrNotFound
		}
		return rec, fmt.Errorf("failed to get %s: %w", r.key, err)
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, fmt.Errorf("%w: corrupt record at %s: %v", ErrNotFound, r.key, err)
	}
	return rec, nil
}

func (r *RedisBackend) Save(ctx context.Context, rec models.StoredIdentity) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := r.kv.Set(ctx, r.key, string(data), 0); err != nil {
		return fmt.Errorf("failed to set %s: %w", r.key, err)
	}
	return nil
}

// Reinit 删除可能损坏的键
func (r *RedisBackend) Reinit(ctx context.Context) error {
	return r.kv.Del(ctx, r.key)
}
