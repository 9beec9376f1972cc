package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safetysec-engine/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 变更通知类型
const (
	ChangeKindRules   = "rules"
	ChangeKindWindows = "windows"
	ChangeKindProfile = "profile"
	ChangeKindAll     = "all"
)

// ChangeMessage 规则/时间窗口变更通知
type ChangeMessage struct {
	ProtectedID string `json:"protected_id"`
	Kind        string `json:"kind"`
}

// RuleSource 规则来源
type RuleSource interface {
	ListEnabled(ctx context.Context, protectedID string) ([]models.Rule, error)
}

// WindowSource 时间窗口来源
type WindowSource interface {
	ListEnabled(ctx context.Context, protectedID string) ([]models.TimeWindow, error)
}

// SnapshotTarget 接收整体替换的规则集和时间窗口
type SnapshotTarget interface {
	UpdateRules(ctx context.Context, rules []models.Rule) error
	UpdateWindows(ctx context.Context, windows []models.TimeWindow) error
}

// ProfileInvalidator 资料缓存失效
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, protectedID string) error
}

// ChangeFeed 订阅 Redis 频道，收到变更后从数据库整体重新加载
// 另有周期性全量同步，弥补 pub/sub 丢失的消息
type ChangeFeed struct {
	redisClient *redis.Client
	channel     string
	protectedID string
	rules       RuleSource
	windows     WindowSource
	target      SnapshotTarget
	profiles    ProfileInvalidator
	resync      time.Duration
	logger      *zap.Logger
}

// NewChangeFeed 创建变更订阅
func NewChangeFeed(
	redisClient *redis.Client,
	channel string,
	protectedID string,
	rules RuleSource,
	windows WindowSource,
	target SnapshotTarget,
	profiles ProfileInvalidator,
	resync time.Duration,
	logger *zap.Logger,
) *ChangeFeed {
	if resync <= 0 {
		resync = 5 * time.Minute
	}
	return &ChangeFeed{
		redisClient: redisClient,
		channel:     channel,
		protectedID: protectedID,
		rules:       rules,
		windows:     windows,
		target:      target,
		profiles:    profiles,
		resync:      resync,
		logger:      logger,
	}
}

// Start 订阅并加载初始快照，阻塞直到 ctx 取消
func (f *ChangeFeed) Start(ctx context.Context) error {
	pubsub := f.redisClient.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}

	f.logger.Info("Change feed subscribed",
		zap.String("channel", f.channel),
		zap.Duration("resync", f.resync),
	)

	f.reload(ctx, ChangeKindAll)

	ticker := time.NewTicker(f.resync)
	defer ticker.Stop()
	messages := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Change feed stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			f.handleMessage(ctx, msg.Payload)
		case <-ticker.C:
			f.reload(ctx, ChangeKindAll)
		}
	}
}

// handleMessage 解析变更通知；无法解析时按全量处理
func (f *ChangeFeed) handleMessage(ctx context.Context, payload string) {
	var msg ChangeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		f.logger.Warn("Invalid change message, reloading everything", zap.String("payload", payload))
		msg.Kind = ChangeKindAll
	}
	if msg.ProtectedID != "" && msg.ProtectedID != f.protectedID {
		return
	}
	f.reload(ctx, msg.Kind)
}

// reload 重新加载；失败时保留上一次的快照
func (f *ChangeFeed) reload(ctx context.Context, kind string) {
	if kind == "" {
		kind = ChangeKindAll
	}

	if kind == ChangeKindRules || kind == ChangeKindAll {
		rules, err := f.rules.ListEnabled(ctx, f.protectedID)
		if err != nil {
			f.logger.Error("Failed to reload rules, keeping previous set", zap.Error(err))
		} else if err := f.target.UpdateRules(ctx, rules); err != nil {
			f.logger.Warn("Failed to push rules to engine", zap.Error(err))
		}
	}

	if kind == ChangeKindWindows || kind == ChangeKindAll {
		windows, err := f.windows.ListEnabled(ctx, f.protectedID)
		if err != nil {
			f.logger.Error("Failed to reload time windows, keeping previous set", zap.Error(err))
		} else if err := f.target.UpdateWindows(ctx, windows); err != nil {
			f.logger.Warn("Failed to push time windows to engine", zap.Error(err))
		}
	}

	if (kind == ChangeKindProfile || kind == ChangeKindAll) && f.profiles != nil {
		if err := f.profiles.Invalidate(ctx, f.protectedID); err != nil {
			f.logger.Warn("Failed to invalidate profile cache", zap.Error(err))
		}
	}
}

// PublishChange 发布变更通知（供外部写入方和测试使用）
func PublishChange(ctx context.Context, client *redis.Client, channel string, msg ChangeMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal change message: %w", err)
	}
	return client.Publish(ctx, channel, data).Err()
}
