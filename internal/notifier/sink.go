package notifier

import (
	"context"

	"safetysec-engine/internal/models"
)

// Sink 外部通知出口（至少一次投递，消费方需容忍重复）
type Sink interface {
	Emit(ctx context.Context, n models.Notification) error
	Close() error
}
