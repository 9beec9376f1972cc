package models

// RelationStatus 监护关系状态
type RelationStatus string

const (
	RelationStatusPending  RelationStatus = "PENDING"
	RelationStatusApproved RelationStatus = "APPROVED"
	RelationStatusRejected RelationStatus = "REJECTED"
)

// MonitorProtectedRelation 监护人-被监护人关系（引擎只读）
type MonitorProtectedRelation struct {
	ID          string         `json:"id"`
	MonitorID   string         `json:"monitor_id"`
	ProtectedID string         `json:"protected_id"`
	Status      RelationStatus `json:"status"`
}

// Profile 被监护人资料（显示名与取消码）
type Profile struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	CancellationCode string `json:"cancellation_code"`
}
