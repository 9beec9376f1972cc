package models

import "time"

// AlertStatus 报警状态
type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "PENDING"
	AlertStatusActive    AlertStatus = "ACTIVE"
	AlertStatusResolved  AlertStatus = "RESOLVED"
	AlertStatusCancelled AlertStatus = "CANCELLED"
)

// IsTerminal CANCELLED 和 RESOLVED 为终态
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusCancelled || s == AlertStatusResolved
}

// CanTransition 状态只能单向流转：PENDING→ACTIVE→RESOLVED，PENDING→CANCELLED
func CanTransition(from, to AlertStatus) bool {
	switch from {
	case AlertStatusPending:
		return to == AlertStatusActive || to == AlertStatusCancelled
	case AlertStatusActive:
		return to == AlertStatusResolved
	}
	return false
}

// GeoPoint 经纬度
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Alert 报警记录（每个监护人一条）
type Alert struct {
	ID          string                 `json:"id"`
	BatchID     string                 `json:"batch_id"`
	ProtectedID string                 `json:"protected_id"`
	MonitorID   string                 `json:"monitor_id"`
	RuleID      string                 `json:"rule_id"`
	Type        RuleType               `json:"type"`
	Status      AlertStatus            `json:"status"`
	Location    *GeoPoint              `json:"location,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	VideoRef    *string                `json:"video_ref,omitempty"`
	CancelledAt *time.Time             `json:"cancelled_at,omitempty"`
	CancelledBy *string                `json:"cancelled_by,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// Transition 尝试流转状态；非法流转（包括终态之后）返回 false 且不修改
func (a *Alert) Transition(to AlertStatus) bool {
	if !CanTransition(a.Status, to) {
		return false
	}
	a.Status = to
	return true
}

// VideoRecorded 是否已挂载录像
func (a *Alert) VideoRecorded() bool {
	return a.VideoRef != nil && *a.VideoRef != ""
}

// StatusUpdate 状态更新（仅当当前状态等于 From 时生效）
type StatusUpdate struct {
	AlertID     string
	From        AlertStatus
	To          AlertStatus
	CancelledAt *time.Time
	CancelledBy *string
}
