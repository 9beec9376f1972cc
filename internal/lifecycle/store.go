package lifecycle

import (
	"context"

	"safetysec-engine/internal/models"
)

// AlertStore 报警存储
type AlertStore interface {
	// Create 写入一条报警记录，返回记录ID
	Create(ctx context.Context, alert *models.Alert) (string, error)
	// UpdateStatus 仅当当前状态等于 update.From 时更新，返回是否发生变化
	UpdateStatus(ctx context.Context, update models.StatusUpdate) (bool, error)
	// AttachVideo 挂载录像引用，返回是否发生变化
	AttachVideo(ctx context.Context, alertID, videoRef string) (bool, error)
	// ListByBatch 获取同一批次的全部记录
	ListByBatch(ctx context.Context, batchID string) ([]models.Alert, error)
}

// RelationStore 监护关系查询（只读）
type RelationStore interface {
	ApprovedMonitors(ctx context.Context, protectedID string) ([]string, error)
}

// ProfileStore 被监护人资料查询（只读）
type ProfileStore interface {
	Profile(ctx context.Context, protectedID string) (*models.Profile, error)
}

// Recorder 录像副作用（激活时触发一次）
type Recorder interface {
	StartRecording(ctx context.Context, batchID string, alert models.Alert) error
}

// LocalNotifier 通知被监护人本人（激活时触发一次）
type LocalNotifier interface {
	NotifyProtected(ctx context.Context, batchID string, alert models.Alert) error
}

// FanOut 向监护人发送通知，返回入队数量
type FanOut interface {
	Publish(alerts []models.Alert, protectedName string) int
}
