package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"thinx-client/common/config"
)

// Config 设备代理配置
type Config struct {
	API      config.APIConfig
	MQTT     config.MQTTConfig
	Redis    config.RedisConfig
	Database config.DatabaseConfig

	// 构建期常量：固件标识与出厂身份
	Device struct {
		APIKey          string
		UDID            string
		Owner           string
		Alias           string
		CommitID        string
		FirmwareVersion string // 完整版本串
		VersionID       string // 短版本，用于比较
		Platform        string // 为空时从主机信息推断
		MAC             string // 为空时从网卡读取
	}

	Agent struct {
		AutoUpdate      bool
		CheckinInterval time.Duration
		ConfirmTimeout  time.Duration // 0 表示一直等待用户确认
		// MQTT 断线后的重连检查间隔
		ReconnectInterval time.Duration
	}

	// 身份存储：file | redis | postgres
	Store struct {
		Backend string
		Path    string
		Key     string
	}

	Journal struct {
		Enabled bool
		Stream  string
		MaxLen  int64
	}

	Update struct {
		BaseURL      string
		FallbackURL  string
		FirmwarePath string
		Timeout      time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Device.APIKey = getEnv("THINX_API_KEY", "")
	cfg.Device.UDID = getEnv("THINX_UDID", "")
	cfg.Device.Owner = getEnv("THINX_OWNER", "")
	cfg.Device.Alias = getEnv("THINX_ALIAS", "")
	cfg.Device.CommitID = getEnv("THINX_COMMIT_ID", "")
	cfg.Device.FirmwareVersion = getEnv("THINX_FIRMWARE_VERSION", "")
	cfg.Device.VersionID = getEnv("THINX_FIRMWARE_VERSION_SHORT", "")
	cfg.Device.Platform = getEnv("THINX_PLATFORM", "")
	cfg.Device.MAC = getEnv("THINX_MAC", "")

	cloud := getEnv("THINX_CLOUD_URL", "thinx.cloud")
	cfg.API.Host = cloud
	cfg.API.Port = parseInt(getEnv("THINX_API_PORT", "7442"), 7442)
	cfg.API.Scheme = getEnv("THINX_API_SCHEME", "http")
	cfg.API.Timeout = parseDuration(getEnv("THINX_CHECKIN_TIMEOUT", "10s"), 10*time.Second)

	mqttHost := getEnv("THINX_MQTT_URL", cloud)
	mqttPort := parseInt(getEnv("THINX_MQTT_PORT", "1883"), 1883)
	cfg.MQTT = config.MQTTConfig{
		Broker:         fmt.Sprintf("tcp://%s:%d", mqttHost, mqttPort),
		QoS:            1,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
	// THINX_MQTT_BROKER/_QOS/_KEEPALIVE/_CONNECT_TIMEOUT/_CLIENT_ID/_USERNAME/_PASSWORD
	cfg.MQTT.LoadFromEnv("THINX_MQTT")

	cfg.Agent.AutoUpdate = parseBool(getEnv("THINX_AUTO_UPDATE", "false"), false)
	cfg.Agent.CheckinInterval = parseDuration(getEnv("THINX_CHECKIN_INTERVAL", "1h"), time.Hour)
	cfg.Agent.ConfirmTimeout = parseDuration(getEnv("THINX_CONFIRM_TIMEOUT", "0"), 0)
	cfg.Agent.ReconnectInterval = parseDuration(getEnv("THINX_RECONNECT_INTERVAL", "30s"), 30*time.Second)

	cfg.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", "file"))
	cfg.Store.Path = getEnv("STORE_PATH", "/var/lib/thinx/thx.cfg")
	cfg.Store.Key = getEnv("STORE_KEY", "thinx:device:identity")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "thinx",
		SSLMode:  "disable",
		MaxConns: 2,
		MaxIdle:  1,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Journal.Enabled = parseBool(getEnv("JOURNAL_ENABLED", "false"), false)
	cfg.Journal.Stream = getEnv("JOURNAL_STREAM", "thinx:device:events")
	cfg.Journal.MaxLen = int64(parseInt(getEnv("JOURNAL_MAXLEN", "1000"), 1000))

	cfg.Update.BaseURL = getEnv("UPDATE_BASE_URL", "http://"+cloud+":80")
	cfg.Update.FallbackURL = getEnv("UPDATE_FALLBACK_URL", "")
	cfg.Update.FirmwarePath = getEnv("FIRMWARE_PATH", "/var/lib/thinx/firmware.bin")
	cfg.Update.Timeout = parseDuration(getEnv("UPDATE_TIMEOUT", "5m"), 5*time.Minute)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "file", "redis", "postgres":
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q (want file, redis or postgres)", c.Store.Backend)
	}
	if c.Agent.CheckinInterval <= 0 {
		return fmt.Errorf("THINX_CHECKIN_INTERVAL must be positive")
	}
	if c.Agent.ReconnectInterval <= 0 {
		return fmt.Errorf("THINX_RECONNECT_INTERVAL must be positive")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid THINX_MQTT_QOS %d", c.MQTT.QoS)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

// parseDuration 支持 "90s" 形式或纯秒数
func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
