package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"thinx-client/internal/models"

	"go.uber.org/zap"
)

// PostgresBackend 单行表保存身份记录（网关类设备共享本地数据库时使用）
type PostgresBackend struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresBackend 创建 PostgreSQL 后端
func NewPostgresBackend(db *sql.DB, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{
		db:     db,
		logger: logger,
	}
}

func (p *PostgresBackend) Name() string { return "postgres" }

// Load 读取 id=1 的记录
func (p *PostgresBackend) Load(ctx context.Context) (models.StoredIdentity, error) {
	query := `
		SELECT record
		FROM thinx_device_identity
		WHERE id = 1
	`

	var rec models.StoredIdentity
	var raw []byte
	err := p.db.QueryRowContext(ctx, query).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return rec, ErrNotFound
		}
		return rec, fmt.Errorf("failed to query identity: %w", err)
	}

	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("%w: corrupt identity row: %v", ErrNotFound, err)
	}
	return rec, nil
}

// Save 写入或覆盖 id=1 的记录
func (p *PostgresBackend) Save(ctx context.Context, rec models.StoredIdentity) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	query := `
		INSERT INTO thinx_device_identity (id, record, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id)
		DO UPDATE SET record = EXCLUDED.record,
		              updated_at = EXCLUDED.updated_at
	`
	if _, err := p.db.ExecContext(ctx, query, data); err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// Reinit 确保表存在
func (p *PostgresBackend) Reinit(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS thinx_device_identity (
			id         SMALLINT PRIMARY KEY,
			record     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create identity table: %w", err)
	}
	p.logger.Info("Identity table ensured")
	return nil
}
