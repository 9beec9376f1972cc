package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"safetysec-engine/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrStateNotFound 状态不存在
var ErrStateNotFound = errors.New("state not found")

// StateManager 引擎状态管理器（Redis JSON + TTL）
type StateManager struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewStateManager 创建状态管理器
func NewStateManager(redisClient *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *StateManager {
	return &StateManager{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		logger:      logger,
	}
}

// GetStateKey 构建状态键
func (s *StateManager) GetStateKey(protectedID, stateType string) string {
	return fmt.Sprintf("%s%s:%s", s.keyPrefix, protectedID, stateType)
}

// SetState 设置状态（带 TTL）
func (s *StateManager) SetState(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

// GetState 获取状态
func (s *StateManager) GetState(ctx context.Context, key string, dest interface{}) error {
	val, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", ErrStateNotFound, key)
		}
		return fmt.Errorf("failed to get state: %w", err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return nil
}

// EngineCheckpoint 引擎检查点（重启后恢复无活动计时）
type EngineCheckpoint struct {
	LastActivity time.Time        `json:"last_activity"`
	Location     *models.GeoPoint `json:"location,omitempty"`
	SavedAt      time.Time        `json:"saved_at"`
}

// SaveCheckpoint 保存检查点
func (s *StateManager) SaveCheckpoint(ctx context.Context, protectedID string, cp EngineCheckpoint) error {
	return s.SetState(ctx, s.GetStateKey(protectedID, "checkpoint"), cp, s.ttl)
}

// LoadCheckpoint 读取检查点，不存在时返回 ErrStateNotFound
func (s *StateManager) LoadCheckpoint(ctx context.Context, protectedID string) (*EngineCheckpoint, error) {
	var cp EngineCheckpoint
	if err := s.GetState(ctx, s.GetStateKey(protectedID, "checkpoint"), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
