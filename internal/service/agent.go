// Package service 设备代理：驱动 check-in 周期并处理 MQTT 推送，两条路径共用同一个决策引擎。
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"thinx-client/internal/classifier"
	"thinx-client/internal/codec"
	"thinx-client/internal/decision"
	"thinx-client/internal/journal"
	"thinx-client/internal/models"
	"thinx-client/internal/repository"
	"thinx-client/internal/session"
	"thinx-client/internal/transport"
	"thinx-client/internal/updater"

	"go.uber.org/zap"
)

// ErrNoAPIKey 未配置 API Key，跳过 check-in
var ErrNoAPIKey = errors.New("api key not configured")

// Options 代理策略
type Options struct {
	AutoUpdate      bool
	CheckinInterval time.Duration
	ConfirmTimeout  time.Duration // 0 表示一直等待
	// ReconnectInterval MQTT 会话检查间隔，独立于 check-in 周期
	ReconnectInterval time.Duration
}

// DefaultReconnectInterval 未配置时的会话检查间隔
const DefaultReconnectInterval = 30 * time.Second

// Deps 代理依赖
type Deps struct {
	Store    repository.IdentityStore
	Checkin  transport.Checkin
	Session  *session.Manager // 可为 nil（不使用 MQTT）
	Executor updater.Executor
	Journal  journal.Recorder // 可为 nil
	Restart  func()           // 更新成功后调用，不应返回
	Now      func() time.Time
}

// AgentService 设备代理服务
// identity 只在持有 mu 时读写；更新执行由 updating 保证同一时刻至多一个。
type AgentService struct {
	opts Options
	deps Deps

	mu       sync.Mutex
	identity models.DeviceIdentity
	dirty    bool // 上次持久化失败，下次变更时重试

	updating sync.Mutex
	machine  *decision.Machine
	logger   *zap.Logger
}

// NewAgentService 创建代理服务；base 为构建期身份（固件标识与出厂值）
func NewAgentService(base models.DeviceIdentity, opts Options, deps Deps, logger *zap.Logger) *AgentService {
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Restart == nil {
		deps.Restart = func() {}
	}
	if base.UpdateState == "" {
		base.UpdateState = models.UpdateStateNone
	}
	return &AgentService{
		opts:     opts,
		deps:     deps,
		identity: base,
		machine:  decision.NewMachine(base),
		logger:   logger,
	}
}

// Init 从存储恢复身份
// 存储中的 API Key 优先；仅当存储中没有有效 Key 时使用配置值。
func (s *AgentService) Init(ctx context.Context) error {
	rec, err := s.deps.Store.Load(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to restore identity: %w", err)
	}

	s.mu.Lock()
	if err == nil {
		s.identity.Restore(rec)
	}
	identity := s.identity
	s.mu.Unlock()
	phase := s.machine.Reset(identity)

	s.logger.Info("Device identity restored",
		zap.String("alias", identity.Alias),
		zap.String("owner", identity.Owner),
		zap.String("udid", identity.UDID),
		zap.String("api_key", identity.MaskedAPIKey()),
		zap.String("commit", identity.CommitID),
		zap.String("version", identity.VersionID),
		zap.String("update_state", string(identity.UpdateState)),
		zap.String("phase", phase.String()),
	)
	return nil
}

// Identity 当前身份快照
func (s *AgentService) Identity() models.DeviceIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Phase 当前更新阶段
func (s *AgentService) Phase() decision.Phase {
	return s.machine.Phase()
}

// Run 控制循环：定时 check-in，断线后按 ReconnectInterval 恢复会话，并处理 MQTT 入站消息
func (s *AgentService) Run(ctx context.Context) error {
	interval := s.opts.CheckinInterval
	if interval <= 0 {
		interval = time.Hour
	}
	reconnect := s.opts.ReconnectInterval
	if reconnect <= 0 {
		reconnect = DefaultReconnectInterval
	}

	s.logger.Info("Device agent started",
		zap.Duration("checkin_interval", interval),
		zap.Duration("reconnect_interval", reconnect),
		zap.Bool("auto_update", s.opts.AutoUpdate),
		zap.Duration("confirm_timeout", s.opts.ConfirmTimeout),
	)

	// 立即执行一次
	if err := s.Cycle(ctx); err != nil {
		s.logger.Warn("Initial check-in cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var inbox <-chan session.Message
	var reconnectC <-chan time.Time
	if s.deps.Session != nil {
		inbox = s.deps.Session.Inbox()
		reconnectTicker := time.NewTicker(reconnect)
		defer reconnectTicker.Stop()
		reconnectC = reconnectTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Device agent stopped")
			s.Close()
			return nil
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil {
				s.logger.Warn("Check-in cycle failed", zap.Error(err))
				// 继续执行，不中断
			}
		case <-reconnectC:
			s.EnsureSession()
		case msg := <-inbox:
			session.Dispatch(ctx, msg, s)
		}
	}
}

// Close 关闭 MQTT 会话
func (s *AgentService) Close() {
	if s.deps.Session != nil {
		s.deps.Session.Close()
	}
}

// Cycle 一次外层循环：检查 MQTT 会话（至多一次重连），再执行 check-in
// MQTT 不可用时 check-in 照常进行。
func (s *AgentService) Cycle(ctx context.Context) error {
	_, err := s.CheckinWithSession(ctx)
	return err
}

// CheckinWithSession 先建立 MQTT 会话再 check-in，使状态报告能够发出
func (s *AgentService) CheckinWithSession(ctx context.Context) (decision.Decision, error) {
	s.EnsureSession()
	return s.Checkin(ctx)
}

// EnsureSession 检查 MQTT 会话
func (s *AgentService) EnsureSession() bool {
	if s.deps.Session == nil {
		return false
	}
	identity := s.Identity()

	var greeting []byte
	if identity.HasUDID() {
		body, err := codec.EncodeCheckin(identity)
		if err != nil {
			s.logger.Warn("Failed to encode check-in for MQTT", zap.Error(err))
		}
		greeting = body
	}

	before := s.deps.Session.State()
	ok := s.deps.Session.EnsureConnected(identity, greeting)
	if before != session.StateSubscribed || !ok {
		s.record(context.Background(), journal.Event{
			Type:    journal.EventSession,
			Outcome: s.deps.Session.State().String(),
			UDID:    identity.UDID,
		})
	}
	return ok
}

// Checkin 执行一次 check-in 并应用决策
func (s *AgentService) Checkin(ctx context.Context) (decision.Decision, error) {
	s.expirePending(ctx)

	identity := s.Identity()
	if len(identity.APIKey) < 4 {
		s.logger.Warn("Skipping check-in, no API key configured")
		return decision.Decision{Identity: identity}, ErrNoAPIKey
	}

	body, err := codec.EncodeCheckin(identity)
	if err != nil {
		return decision.Decision{Identity: identity}, err
	}

	s.machine.BeginCheckin()
	raw, err := s.deps.Checkin.Send(ctx, identity.APIKey, body)
	if err != nil {
		s.machine.CheckinFailed()
		s.record(ctx, journal.Event{Type: journal.EventCheckin, Outcome: "transport_error", UDID: identity.UDID, Detail: err.Error()})
		return decision.Decision{Identity: identity}, err
	}

	d, err := s.HandlePayload(ctx, raw, models.SourceHTTPResponse)
	if err != nil {
		s.machine.CheckinFailed()
		s.record(ctx, journal.Event{Type: journal.EventCheckin, Outcome: "decode_error", UDID: identity.UDID, Detail: err.Error()})
		return d, err
	}
	s.record(ctx, journal.Event{Type: journal.EventCheckin, Outcome: "ok", UDID: d.Identity.UDID})
	return d, nil
}

// HandlePayload 解码、分类并应用一条报文（HTTP 响应与 MQTT 推送共用）
func (s *AgentService) HandlePayload(ctx context.Context, raw []byte, source models.UpdateSource) (decision.Decision, error) {
	env, err := codec.Decode(raw)
	if err != nil {
		s.logger.Warn("Discarding undecodable payload",
			zap.String("source", string(source)),
			zap.Int("size", len(raw)),
			zap.Error(err),
		)
		return decision.Decision{Identity: s.Identity()}, err
	}

	rec, err := classifier.Classify(env)
	if err != nil {
		s.logger.Warn("Discarding invalid envelope",
			zap.String("source", string(source)),
			zap.String("kind", string(env.Kind)),
			zap.Error(err),
		)
		return decision.Decision{Identity: s.Identity()}, err
	}

	return s.apply(ctx, rec, source), nil
}

// apply 运行决策引擎并执行副作用：持久化、状态发布、更新执行
func (s *AgentService) apply(ctx context.Context, rec classifier.Record, source models.UpdateSource) decision.Decision {
	s.mu.Lock()
	d := decision.Decide(s.identity, rec, s.opts.AutoUpdate, source, s.deps.Now())
	s.identity = d.Identity
	if d.Persist || s.dirty {
		s.persistLocked(ctx)
	}
	phase := s.machine.Apply(d)
	s.mu.Unlock()

	fields := []zap.Field{
		zap.String("outcome", d.Outcome.String()),
		zap.String("source", string(source)),
		zap.String("kind", string(rec.Kind())),
		zap.String("phase", phase.String()),
		zap.String("reason", d.Reason),
	}
	if d.Intent != nil {
		fields = append(fields, zap.String("target_url", d.Intent.TargetURL))
	}
	s.logger.Info("Update decision", fields...)

	if d.Anomalous {
		s.logger.Warn("Forced update requested for the running commit", zap.String("commit", d.Identity.CommitID))
	}
	if d.MACMismatch {
		s.logger.Warn("Update message addressed to a different MAC", zap.String("mac", d.Identity.MAC))
	}

	s.record(ctx, journal.Event{
		Type:    journal.EventDecision,
		Outcome: d.Outcome.String(),
		Source:  string(source),
		UDID:    d.Identity.UDID,
		Detail:  d.Reason,
	})

	switch d.Outcome {
	case decision.MarkInstalled:
		s.publishStatus(models.StatusUpdateSuccess)
	case decision.AskUser:
		s.publishStatus(models.StatusUpdateQuestion)
	}

	if d.Executes() {
		s.runUpdate(ctx, updater.Source{URL: d.Intent.TargetURL}, string(source))
	}
	return d
}

// HandleText MQTT 文本消息：与 HTTP 响应走同一决策路径
func (s *AgentService) HandleText(ctx context.Context, msg session.Message) {
	if _, err := s.HandlePayload(ctx, msg.Payload, models.SourceMessagingPush); err != nil {
		s.logger.Debug("MQTT message ignored", zap.String("topic", msg.Topic), zap.Error(err))
	}
}

// HandleStream MQTT 二进制消息：作为固件镜像直接交给执行器
func (s *AgentService) HandleStream(ctx context.Context, msg session.Message) {
	s.logger.Info("Firmware image received over MQTT",
		zap.String("topic", msg.Topic),
		zap.Int("size", len(msg.Payload)),
	)
	s.runUpdate(ctx, updater.Source{
		Reader: bytes.NewReader(msg.Payload),
		Length: int64(len(msg.Payload)),
	}, string(models.SourceMessagingPush))
}

// runUpdate 执行更新；已有更新在执行时直接返回 NoUpdate
func (s *AgentService) runUpdate(ctx context.Context, src updater.Source, source string) updater.Result {
	if !s.updating.TryLock() {
		s.logger.Warn("Update already in progress, ignoring request")
		return updater.NoUpdate
	}
	defer s.updating.Unlock()

	res, err := s.deps.Executor.Apply(ctx, src)

	identity := s.Identity()
	ev := journal.Event{Type: journal.EventUpdate, Outcome: res.String(), Source: source, UDID: identity.UDID}
	if err != nil {
		ev.Detail = err.Error()
	}
	s.record(ctx, ev)

	switch res {
	case updater.Success:
		s.logger.Info("Update successful, rebooting")
		s.publishStatus(models.StatusRebooting)
		if s.deps.Session != nil {
			s.deps.Session.Close()
		}
		s.deps.Restart()
	case updater.Failed:
		// 保留待处理更新，下一轮重试
		s.logger.Error("Update failed",
			zap.String("pending_url", identity.PendingUpdateURL),
			zap.Error(err),
		)
		s.machine.UpdateFinished(identity)
	default:
		s.logger.Info("No update available")
		s.machine.UpdateFinished(identity)
	}
	return res
}

// expirePending 等待确认超时后放弃待处理更新
func (s *AgentService) expirePending(ctx context.Context) {
	s.mu.Lock()
	next, expired := decision.Expire(s.identity, s.deps.Now(), s.opts.ConfirmTimeout)
	if !expired {
		s.mu.Unlock()
		return
	}
	dropped := s.identity.PendingUpdateURL
	s.identity = next
	s.persistLocked(ctx)
	s.machine.UpdateFinished(next)
	s.mu.Unlock()

	s.logger.Info("Update confirmation timed out", zap.String("url", dropped))
	s.record(ctx, journal.Event{Type: journal.EventDecision, Outcome: "confirmation_expired", UDID: next.UDID, Detail: dropped})
}

// persistLocked 写入存储；调用方持有 mu
func (s *AgentService) persistLocked(ctx context.Context) {
	if err := s.deps.Store.Save(ctx, s.identity.Stored()); err != nil {
		s.dirty = true
		s.logger.Warn("Identity kept in memory, will retry on next change", zap.Error(err))
		s.record(ctx, journal.Event{Type: journal.EventPersist, Outcome: "failed", UDID: s.identity.UDID, Detail: err.Error()})
		return
	}
	s.dirty = false
}

func (s *AgentService) publishStatus(kind models.StatusKind) {
	if s.deps.Session == nil {
		return
	}
	s.deps.Session.PublishStatus(kind)
}

func (s *AgentService) record(ctx context.Context, ev journal.Event) {
	s.deps.Journal.Record(ctx, ev)
}
