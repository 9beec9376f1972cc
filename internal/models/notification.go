package models

import "time"

// NotificationTypeAlert 报警通知类型标签
const NotificationTypeAlert = "ALERT"

// Notification 发送给监护人的通知记录
type Notification struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	MonitorID     string    `json:"monitor_id"`
	AlertID       string    `json:"alert_id"`
	ProtectedID   string    `json:"protected_id"`
	ProtectedName string    `json:"protected_name"`
	AlertType     RuleType  `json:"alert_type"`
	Timestamp     time.Time `json:"timestamp"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	VideoRef      string    `json:"video_ref"`
	Unread        bool      `json:"unread"`
}
