package notifier

import (
	"context"

	"safetysec-engine/internal/models"
	rediscommon "safetysec-engine/pkg/common/redis"

	"github.com/go-redis/redis/v8"
)

// RedisStreamSink 将通知写入 Redis Stream
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink 创建 Redis Stream 出口
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Emit 写入一条通知
func (s *RedisStreamSink) Emit(ctx context.Context, n models.Notification) error {
	_, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, s.maxLen, n)
	return err
}

// Close Redis 客户端由调用方管理
func (s *RedisStreamSink) Close() error { return nil }
