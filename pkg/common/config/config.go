package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	PublishTimeout time.Duration // 单条消息等待确认的上限
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 用 {prefix}_HOST 等环境变量覆盖已有值
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	overrideString(&c.Host, prefix+"_HOST")
	overrideInt(&c.Port, prefix+"_PORT")
	overrideString(&c.User, prefix+"_USER")
	overrideString(&c.Password, prefix+"_PASSWORD")
	overrideString(&c.Database, prefix+"_NAME")
	overrideString(&c.SSLMode, prefix+"_SSLMODE")
	overrideInt(&c.MaxConns, prefix+"_MAX_CONNS")
	overrideInt(&c.MaxIdle, prefix+"_MAX_IDLE")
}

// Validate 校验数据库配置
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" || c.Database == "" {
		return errors.New("database host and name are required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}
	return nil
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	overrideString(&c.Addr, prefix+"_ADDR")
	overrideString(&c.Password, prefix+"_PASSWORD")
	overrideInt(&c.DB, prefix+"_DB")
	overrideDuration(&c.DialTimeout, prefix+"_DIAL_TIMEOUT")
	overrideDuration(&c.ReadTimeout, prefix+"_READ_TIMEOUT")
	overrideDuration(&c.WriteTimeout, prefix+"_WRITE_TIMEOUT")
}

// Validate 校验Redis配置
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("redis address is required")
	}
	return nil
}

// LoadFromEnv 从环境变量加载MQTT配置，QoS 只接受 0-2
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	overrideString(&c.Broker, prefix+"_BROKER")
	overrideString(&c.ClientID, prefix+"_CLIENT_ID")
	overrideString(&c.Username, prefix+"_USERNAME")
	overrideString(&c.Password, prefix+"_PASSWORD")
	overrideDuration(&c.KeepAlive, prefix+"_KEEPALIVE")
	overrideDuration(&c.PublishTimeout, prefix+"_PUBLISH_TIMEOUT")

	if v := os.Getenv(prefix + "_QOS"); v != "" {
		if qos, err := strconv.Atoi(v); err == nil && qos >= 0 && qos <= 2 {
			c.QoS = byte(qos)
		}
	}
}

// Validate 校验MQTT配置
func (c *MQTTConfig) Validate() error {
	if c.Broker == "" || c.ClientID == "" {
		return errors.New("mqtt broker and client id are required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos: %d", c.QoS)
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
