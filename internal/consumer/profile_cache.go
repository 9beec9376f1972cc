package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// ProfileSource 资料来源（数据库）
type ProfileSource interface {
	Profile(ctx context.Context, protectedID string) (*models.Profile, error)
}

// CachedProfileStore 带 Redis 缓存的资料查询
// 缓存读写失败只记日志，回退到数据库
type CachedProfileStore struct {
	kv     KVStore
	source ProfileSource
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedProfileStore 创建资料缓存
func NewCachedProfileStore(kv KVStore, source ProfileSource, prefix string, ttl time.Duration, logger *zap.Logger) *CachedProfileStore {
	return &CachedProfileStore{
		kv:     kv,
		source: source,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedProfileStore) key(protectedID string) string {
	return c.prefix + protectedID
}

// Profile 先查缓存，未命中时查数据库并回填
func (c *CachedProfileStore) Profile(ctx context.Context, protectedID string) (*models.Profile, error) {
	key := c.key(protectedID)

	val, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var p models.Profile
		if jsonErr := json.Unmarshal([]byte(val), &p); jsonErr == nil {
			return &p, nil
		}
		c.logger.Warn("Invalid cached profile, reloading", zap.String("key", key))
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("Profile cache read failed", zap.String("key", key), zap.Error(err))
	}

	p, err := c.source.Profile(ctx, protectedID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.kv.Set(ctx, key, string(data), c.ttl); err != nil {
			c.logger.Warn("Profile cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return p, nil
}

// Invalidate 删除缓存（资料变更时调用）
func (c *CachedProfileStore) Invalidate(ctx context.Context, protectedID string) error {
	return c.kv.Delete(ctx, c.key(protectedID))
}
