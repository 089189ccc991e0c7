package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"thinx-client/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrNotConnected 客户端尚未建立连接
var ErrNotConnected = errors.New("mqtt client not connected")

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte) error

// ConnectOptions 单次连接参数（认证 + 遗嘱消息）
type ConnectOptions struct {
	ClientID    string
	Username    string
	Password    string
	WillTopic   string
	WillPayload []byte
}

// Client MQTT客户端封装
// 自动重连关闭：重连由调用方在主循环中显式驱动。
type Client struct {
	mu     sync.Mutex
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewClient 创建MQTT客户端（不立即连接）
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger,
	}
}

// Connect 连接 broker；onLost 在连接意外断开时回调
func (c *Client) Connect(opts ConnectOptions, onLost func(error)) error {
	o := mqtt.NewClientOptions()
	o.AddBroker(c.config.Broker)

	clientID := opts.ClientID
	if clientID == "" {
		clientID = c.config.ClientID
	}
	o.SetClientID(clientID)

	username, password := opts.Username, opts.Password
	if username == "" {
		username = c.config.Username
	}
	if password == "" {
		password = c.config.Password
	}
	if username != "" {
		o.SetUsername(username)
	}
	if password != "" {
		o.SetPassword(password)
	}

	if opts.WillTopic != "" {
		o.SetBinaryWill(opts.WillTopic, opts.WillPayload, c.config.QoS, false)
	}

	keepAlive := c.config.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	connectTimeout := c.config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	o.SetKeepAlive(keepAlive)
	o.SetConnectTimeout(connectTimeout)
	o.SetAutoReconnect(false)
	o.SetConnectRetry(false)
	o.SetCleanSession(true)
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost", zap.Error(err))
		if onLost != nil {
			onLost(err)
		}
	})

	client := mqtt.NewClient(o)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker %s: timeout after %s", c.config.Broker, connectTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.mu.Lock()
	old := c.client
	c.client = client
	c.mu.Unlock()

	if old != nil && old.IsConnected() {
		old.Disconnect(250)
	}
	return nil
}

func (c *Client) current() mqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Subscribe 订阅主题
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}
	if token := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			// 记录错误，但不中断处理
			c.logger.Error("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Publish 发布消息
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}
	token := client.Publish(topic, qos, retained, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}
	token := client.Unsubscribe(topics...)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	if client := c.current(); client != nil {
		client.Disconnect(250) // 250ms等待时间
	}
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	client := c.current()
	return client != nil && client.IsConnected()
}
