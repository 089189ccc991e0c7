// Package journal 将设备生命周期事件写入 Redis Stream，便于现场排查。
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisclient "thinx-client/common/redis"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultStream 默认事件流
const DefaultStream = "thinx:device:events"

// EventType 事件类型
type EventType string

const (
	EventCheckin  EventType = "checkin"
	EventDecision EventType = "decision"
	EventUpdate   EventType = "update"
	EventSession  EventType = "session"
	EventPersist  EventType = "persist"
)

// Event 生命周期事件
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Outcome string    `json:"outcome,omitempty"`
	Source  string    `json:"source,omitempty"`
	UDID    string    `json:"udid,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Time    int64     `json:"time"`
}

// Recorder 事件记录契约；记录失败不影响主流程
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop 不记录任何事件
type Nop struct{}

func (Nop) Record(ctx context.Context, ev Event) {}

// RedisJournal 基于 Redis Streams 的事件记录
type RedisJournal struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisJournal 创建事件记录器
func NewRedisJournal(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisJournal {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisJournal{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Record 写入事件（尽力而为）
func (j *RedisJournal) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time == 0 {
		ev.Time = time.Now().Unix()
	}

	if _, err := redisclient.PublishJSONToStream(ctx, j.client, j.stream, j.maxLen, ev); err != nil {
		j.logger.Warn("Failed to record lifecycle event",
			zap.String("stream", j.stream),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// Recent 按时间倒序读取最近 n 条事件
func (j *RedisJournal) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := redisclient.ReadRecent(ctx, j.client, j.stream, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", j.stream, err)
	}

	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			j.logger.Debug("Skipping malformed journal entry", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
