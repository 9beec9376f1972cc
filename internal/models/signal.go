package models

import "time"

// AccelSample 加速度计采样（m/s²）
type AccelSample struct {
	X  float64   `json:"x"`
	Y  float64   `json:"y"`
	Z  float64   `json:"z"`
	At time.Time `json:"at"`
}

// LocationFix 定位采样，Speed 单位 m/s
type LocationFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	At        time.Time `json:"at"`
}

// Point 转换为 GeoPoint
func (f LocationFix) Point() GeoPoint {
	return GeoPoint{Latitude: f.Latitude, Longitude: f.Longitude}
}

// PanicSignal 手动紧急触发
type PanicSignal struct {
	At time.Time `json:"at"`
}

// CancelRequest 取消请求（取消码 + 取消人）
type CancelRequest struct {
	Code        string    `json:"code"`
	CancelledBy string    `json:"cancelled_by"`
	At          time.Time `json:"at"`
}

// RecordingDone 录像完成回调
type RecordingDone struct {
	BatchID  string `json:"batch_id"`
	VideoRef string `json:"video_ref"`
}

// Candidate 检测器产生的候选触发（尚未持久化）
type Candidate struct {
	RuleID     string                 `json:"rule_id"`
	RuleType   RuleType               `json:"rule_type"`
	MonitorID  string                 `json:"monitor_id,omitempty"`
	Location   *GeoPoint              `json:"location,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	DetectedAt time.Time              `json:"detected_at"`
}
