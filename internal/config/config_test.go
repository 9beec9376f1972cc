package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("PROTECTED_ID", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "safetysec", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 5*time.Second, cfg.MQTT.PublishTimeout)

	assert.Equal(t, 60*time.Second, cfg.Engine.InactivityInterval)
	assert.Equal(t, 10, cfg.Lifecycle.CountdownSeconds)
	assert.Equal(t, time.Second, cfg.Lifecycle.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.Lifecycle.SideEffectTimeout)
	assert.Zero(t, cfg.Engine.CheckpointMaxAge)
	assert.Equal(t, SinkRedis, cfg.Notifier.Sink)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Notifier.KafkaBrokers)
	assert.Equal(t, "safetysec", cfg.Topics.Prefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("PROTECTED_ID", "user-1")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("INACTIVITY_INTERVAL", "30s")
	t.Setenv("NOTIFIER_SINK", "KAFKA")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("NOTIFIER_RATE", "2.5")
	t.Setenv("LOG_FILE", "/tmp/engine.log")
	t.Setenv("MQTT_PUBLISH_TIMEOUT", "2s")
	t.Setenv("SIDE_EFFECT_TIMEOUT", "3s")
	t.Setenv("CHECKPOINT_MAX_AGE", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "user-1", cfg.ProtectedID)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Engine.InactivityInterval)
	assert.Equal(t, SinkKafka, cfg.Notifier.Sink)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notifier.KafkaBrokers)
	assert.Equal(t, 2.5, cfg.Notifier.RatePerSec)
	assert.Equal(t, "/tmp/engine.log", cfg.Log.File)
	assert.Equal(t, 2*time.Second, cfg.MQTT.PublishTimeout)
	assert.Equal(t, 3*time.Second, cfg.Lifecycle.SideEffectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Engine.CheckpointMaxAge)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("COUNTDOWN_SECONDS", "ten")
	t.Setenv("STORE_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Lifecycle.CountdownSeconds)
	assert.Equal(t, 5*time.Second, cfg.Lifecycle.StoreTimeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("PROTECTED_ID", "user-1")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "missing protected id", mutate: func(c *Config) { c.ProtectedID = "" }, wantErr: "PROTECTED_ID"},
		{name: "unknown sink", mutate: func(c *Config) { c.Notifier.Sink = "smtp" }, wantErr: "unknown notifier sink"},
		{name: "webhook without url", mutate: func(c *Config) { c.Notifier.Sink = SinkWebhook }, wantErr: "NOTIFIER_WEBHOOK_URL"},
		{name: "zero countdown", mutate: func(c *Config) { c.Lifecycle.CountdownSeconds = 0 }, wantErr: "countdown"},
		{name: "bad mqtt qos", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "qos"},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: "invalid timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
