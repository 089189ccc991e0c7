package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAPIConfig_BaseURL(t *testing.T) {
	c := APIConfig{Host: "thinx.cloud", Port: 7442}
	assert.Equal(t, "http://thinx.cloud:7442", c.BaseURL())

	c.Scheme = "https"
	assert.Equal(t, "https://thinx.cloud:7442", c.BaseURL())
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "db.local")
	t.Setenv("TEST_DB_PORT", "6543")
	t.Setenv("TEST_DB_NAME", "thinx")
	t.Setenv("TEST_DB_MAX_CONNS", "1")

	c := DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", SSLMode: "disable", MaxConns: 2, MaxIdle: 2}
	c.LoadFromEnv("TEST_DB")

	assert.Equal(t, "host=db.local port=6543 user=postgres password= dbname=thinx sslmode=disable", c.GetDSN())
	assert.Equal(t, 1, c.MaxConns)
	assert.Equal(t, 1, c.MaxIdle)
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TEST_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("TEST_MQTT_USERNAME", "u-123456")
	t.Setenv("TEST_MQTT_QOS", "2")
	t.Setenv("TEST_MQTT_KEEPALIVE", "45")
	t.Setenv("TEST_MQTT_CONNECT_TIMEOUT", "bogus")

	c := MQTTConfig{QoS: 1, ConnectTimeout: 10 * time.Second}
	c.LoadFromEnv("TEST_MQTT")

	assert.Equal(t, "tcp://broker:1883", c.Broker)
	assert.Equal(t, "u-123456", c.Username)
	assert.Empty(t, c.ClientID)
	assert.Equal(t, byte(2), c.QoS)
	assert.Equal(t, 45*time.Second, c.KeepAlive)
	assert.Equal(t, 10*time.Second, c.ConnectTimeout)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis:6379")
	t.Setenv("TEST_REDIS_DB", "two")

	c := RedisConfig{DB: 3}
	c.LoadFromEnv("TEST_REDIS")

	assert.Equal(t, "redis:6379", c.Addr)
	assert.Equal(t, 3, c.DB)
}
