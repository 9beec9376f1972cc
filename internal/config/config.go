package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"safetysec-engine/pkg/common/config"
)

// 通知出口类型
const (
	SinkRedis   = "redis"
	SinkKafka   = "kafka"
	SinkWebhook = "webhook"
)

// Config 安全监控引擎配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 被监护人ID（一个进程只服务一个被监护人）
	ProtectedID string
	// 时间窗口判定使用的时区，如 "Europe/Lisbon"
	Timezone string

	Engine struct {
		InactivityInterval time.Duration // 无活动检查周期，默认 60s
		SampleQueueSize    int           // 加速度/定位采样缓冲
		MetricsInterval    time.Duration // 指标日志周期
		CheckpointMaxAge   time.Duration // 超过该时长的检查点不恢复最后活动时间，0 为 5 个检查周期
	}

	Lifecycle struct {
		CountdownSeconds   int           // 取消倒计时，默认 10
		TickInterval       time.Duration // 倒计时步长，默认 1s
		CandidateQueueSize int
		StoreTimeout       time.Duration // 单次存储操作超时
		ActiveBatchLimit   int           // 等待录像回调的批次上限
		SideEffectTimeout  time.Duration // 录像命令与本人通知的发布超时
	}

	Store struct {
		ChangeChannel    string        // 规则/时间窗口变更通知频道
		ResyncInterval   time.Duration // 全量重新加载周期
		ProfileKeyPrefix string
		ProfileTTL       time.Duration
		StateKeyPrefix   string
		StateTTL         time.Duration
	}

	Topics struct {
		Prefix string // MQTT 主题前缀，实际主题为 {prefix}/{protected_id}/{kind}
	}

	Notifier struct {
		Sink       string // redis | kafka | webhook
		Workers    int
		QueueSize  int
		RatePerSec float64
		Burst      int
		MaxRetries int

		Stream       string // Redis Stream 名称
		StreamMaxLen int64

		KafkaBrokers []string
		KafkaTopic   string

		WebhookURL     string
		WebhookTimeout time.Duration
	}

	Log struct {
		Level  string
		Format string
		File   string
	}
}

// Load 加载配置（.env 文件可选）
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "safetysec"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "safetysec-engine"
	cfg.MQTT.QoS = 1
	cfg.MQTT.KeepAlive = 30 * time.Second
	cfg.MQTT.PublishTimeout = 5 * time.Second
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.ProtectedID = getEnv("PROTECTED_ID", "")
	cfg.Timezone = getEnv("TIMEZONE", "Local")

	cfg.Engine.InactivityInterval = getEnvDuration("INACTIVITY_INTERVAL", 60*time.Second)
	cfg.Engine.SampleQueueSize = getEnvInt("SAMPLE_QUEUE_SIZE", 256)
	cfg.Engine.MetricsInterval = getEnvDuration("METRICS_INTERVAL", 60*time.Second)
	cfg.Engine.CheckpointMaxAge = getEnvDuration("CHECKPOINT_MAX_AGE", 0)

	cfg.Lifecycle.CountdownSeconds = getEnvInt("COUNTDOWN_SECONDS", 10)
	cfg.Lifecycle.TickInterval = time.Second
	cfg.Lifecycle.CandidateQueueSize = getEnvInt("CANDIDATE_QUEUE_SIZE", 32)
	cfg.Lifecycle.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.Lifecycle.ActiveBatchLimit = 16
	cfg.Lifecycle.SideEffectTimeout = getEnvDuration("SIDE_EFFECT_TIMEOUT", 5*time.Second)

	cfg.Store.ChangeChannel = getEnv("CHANGE_CHANNEL", "safetysec:changes")
	cfg.Store.ResyncInterval = getEnvDuration("RESYNC_INTERVAL", 5*time.Minute)
	cfg.Store.ProfileKeyPrefix = getEnv("CACHE_PROFILE_PREFIX", "safetysec:profile:")
	cfg.Store.ProfileTTL = getEnvDuration("PROFILE_TTL", 10*time.Minute)
	cfg.Store.StateKeyPrefix = getEnv("CACHE_STATE_PREFIX", "safetysec:state:")
	cfg.Store.StateTTL = 24 * time.Hour

	cfg.Topics.Prefix = getEnv("MQTT_TOPIC_PREFIX", "safetysec")

	cfg.Notifier.Sink = strings.ToLower(getEnv("NOTIFIER_SINK", SinkRedis))
	cfg.Notifier.Workers = getEnvInt("NOTIFIER_WORKERS", 4)
	cfg.Notifier.QueueSize = getEnvInt("NOTIFIER_QUEUE_SIZE", 128)
	cfg.Notifier.RatePerSec = getEnvFloat("NOTIFIER_RATE", 50)
	cfg.Notifier.Burst = getEnvInt("NOTIFIER_BURST", 10)
	cfg.Notifier.MaxRetries = getEnvInt("NOTIFIER_MAX_RETRIES", 2)
	cfg.Notifier.Stream = getEnv("NOTIFIER_STREAM", "safetysec:notifications")
	cfg.Notifier.StreamMaxLen = int64(getEnvInt("NOTIFIER_STREAM_MAXLEN", 10000))
	cfg.Notifier.KafkaBrokers = splitList(getEnv("KAFKA_BROKERS", "localhost:9092"))
	cfg.Notifier.KafkaTopic = getEnv("KAFKA_TOPIC", "safetysec.notifications")
	cfg.Notifier.WebhookURL = getEnv("NOTIFIER_WEBHOOK_URL", "")
	cfg.Notifier.WebhookTimeout = getEnvDuration("NOTIFIER_WEBHOOK_TIMEOUT", 5*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.File = getEnv("LOG_FILE", "")

	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.ProtectedID == "" {
		errs = append(errs, errors.New("PROTECTED_ID is required"))
	}
	for _, sub := range []interface{ Validate() error }{&c.Database, &c.Redis, &c.MQTT} {
		if err := sub.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.InactivityInterval <= 0 {
		errs = append(errs, errors.New("inactivity interval must be positive"))
	}
	if c.Lifecycle.CountdownSeconds <= 0 {
		errs = append(errs, errors.New("countdown seconds must be positive"))
	}
	if c.Lifecycle.TickInterval <= 0 {
		errs = append(errs, errors.New("countdown tick interval must be positive"))
	}
	if c.Lifecycle.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	if c.Notifier.Workers <= 0 || c.Notifier.QueueSize <= 0 {
		errs = append(errs, errors.New("notifier workers and queue size must be positive"))
	}
	switch c.Notifier.Sink {
	case SinkRedis:
	case SinkKafka:
		if len(c.Notifier.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka sink"))
		}
	case SinkWebhook:
		if c.Notifier.WebhookURL == "" {
			errs = append(errs, errors.New("NOTIFIER_WEBHOOK_URL is required for webhook sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier sink: %q", c.Notifier.Sink))
	}
	return errors.Join(errs...)
}

// Location 解析时区
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
