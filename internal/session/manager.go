// Package session 维护设备的 MQTT 会话：连接、订阅、掉线重连与入站消息排队。
package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"unicode/utf8"

	"thinx-client/common/mqtt"
	"thinx-client/internal/models"

	"go.uber.org/zap"
)

// ErrInboxFull 入站队列已满，消息被丢弃
var ErrInboxFull = errors.New("session inbox full")

// DefaultInboxSize 入站队列默认容量
const DefaultInboxSize = 16

// PubSub 发布/订阅传输契约（*mqtt.Client 实现）
type PubSub interface {
	Connect(opts mqtt.ConnectOptions, onLost func(error)) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
	Disconnect()
	IsConnected() bool
}

// State 会话状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Message 入站消息
type Message struct {
	Topic   string
	Payload []byte
	Stream  bool // 二进制负载，视为固件镜像传输
}

// Handler 入站消息处理
type Handler interface {
	HandleStream(ctx context.Context, msg Message)
	HandleText(ctx context.Context, msg Message)
}

// Manager MQTT 会话管理器
// 回调线程只负责入队；消息由控制循环从 Inbox 取出处理。
type Manager struct {
	mu      sync.Mutex
	client  PubSub
	qos     byte
	state   State
	channel string // 已订阅的设备频道
	status  string // 状态频道
	inbox   chan Message
	logger  *zap.Logger
}

// NewManager 创建会话管理器
func NewManager(client PubSub, qos byte, inboxSize int, logger *zap.Logger) *Manager {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Manager{
		client: client,
		qos:    qos,
		state:  StateDisconnected,
		inbox:  make(chan Message, inboxSize),
		logger: logger,
	}
}

// State 当前会话状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Inbox 入站消息队列
func (m *Manager) Inbox() <-chan Message {
	return m.inbox
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// EnsureConnected 会话已订阅时直接返回；否则进行一次连接尝试
// 连接成功后订阅设备频道，并在状态频道发布 connected 状态与当前 check-in 报文。
func (m *Manager) EnsureConnected(identity models.DeviceIdentity, checkin []byte) bool {
	m.mu.Lock()
	if m.state == StateSubscribed && m.client.IsConnected() && m.channel == identity.DeviceChannel() {
		m.mu.Unlock()
		return true
	}
	if m.state == StateConnecting {
		m.mu.Unlock()
		return false
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if !identity.HasUDID() {
		m.logger.Debug("Skipping MQTT session, device has no UDID yet")
		m.setState(StateDisconnected)
		return false
	}

	clientID := identity.MAC
	if clientID == "" {
		clientID = identity.UDID
	}
	statusChannel := identity.StatusChannel()

	err := m.client.Connect(mqtt.ConnectOptions{
		ClientID:    clientID,
		Username:    identity.UDID,
		Password:    identity.APIKey,
		WillTopic:   statusChannel,
		WillPayload: models.StatusPayload(models.StatusDisconnected),
	}, m.onLost)
	if err != nil {
		m.logger.Warn("MQTT connect attempt failed",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		m.setState(StateDisconnected)
		return false
	}
	m.setState(StateConnected)

	deviceChannel := identity.DeviceChannel()
	if err := m.client.Subscribe(deviceChannel, m.qos, m.enqueue); err != nil {
		m.logger.Warn("MQTT subscribe failed",
			zap.String("channel", deviceChannel),
			zap.Error(err),
		)
		m.client.Disconnect()
		m.setState(StateDisconnected)
		return false
	}

	m.mu.Lock()
	m.state = StateSubscribed
	m.channel = deviceChannel
	m.status = statusChannel
	m.mu.Unlock()

	m.logger.Info("MQTT session established",
		zap.String("channel", deviceChannel),
		zap.String("client_id", clientID),
	)

	m.PublishStatus(models.StatusConnected)
	if len(checkin) > 0 {
		m.publish(checkin)
	}
	return true
}

// onLost 连接意外断开；重连由下一次 EnsureConnected 完成
func (m *Manager) onLost(err error) {
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.logger.Warn("MQTT session dropped", zap.Error(err))
}

// enqueue 订阅回调：非阻塞入队
func (m *Manager) enqueue(topic string, payload []byte) error {
	msg := Message{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
		Stream:  IsStream(payload),
	}
	select {
	case m.inbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// IsStream 非 UTF-8 或含 NUL 字节的负载按二进制流处理
func IsStream(payload []byte) bool {
	return !utf8.Valid(payload) || bytes.IndexByte(payload, 0) >= 0
}

// Dispatch 按负载类型分派
func Dispatch(ctx context.Context, msg Message, h Handler) {
	if msg.Stream {
		h.HandleStream(ctx, msg)
		return
	}
	h.HandleText(ctx, msg)
}

// Pump 处理当前已排队的全部消息，不等待新消息；返回处理条数
func (m *Manager) Pump(ctx context.Context, h Handler) int {
	n := 0
	for {
		select {
		case msg := <-m.inbox:
			Dispatch(ctx, msg, h)
			n++
		default:
			return n
		}
	}
}

// PublishStatus 尽力发布状态消息；失败只记录日志
func (m *Manager) PublishStatus(kind models.StatusKind) bool {
	ok := m.publish(models.StatusPayload(kind))
	if ok {
		m.logger.Debug("Status published", zap.String("status", string(kind)))
	}
	return ok
}

func (m *Manager) publish(payload []byte) bool {
	m.mu.Lock()
	channel := m.status
	connected := m.state == StateSubscribed || m.state == StateConnected
	m.mu.Unlock()

	if !connected || channel == "" {
		m.logger.Debug("Status not published, session is down")
		return false
	}
	if err := m.client.Publish(channel, m.qos, false, payload); err != nil {
		m.logger.Warn("Failed to publish on status channel",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Close 取消订阅并断开会话
func (m *Manager) Close() {
	m.mu.Lock()
	channel := m.channel
	subscribed := m.state == StateSubscribed
	m.state = StateDisconnected
	m.channel = ""
	m.mu.Unlock()

	if subscribed && channel != "" {
		if err := m.client.Unsubscribe(channel); err != nil {
			m.logger.Debug("Failed to unsubscribe", zap.String("channel", channel), zap.Error(err))
		}
	}
	m.client.Disconnect()
}
