package models

// TimeWindow 监控时间窗口
// Days 使用 1=周一 .. 7=周日；Days 为空表示每天，起止时间全为 0 表示全天
type TimeWindow struct {
	ID          string `json:"id"`
	ProtectedID string `json:"protected_id"`
	Name        string `json:"name"`
	StartHour   int    `json:"start_hour"`
	StartMinute int    `json:"start_minute"`
	EndHour     int    `json:"end_hour"`
	EndMinute   int    `json:"end_minute"`
	Days        []int  `json:"days"`
	Enabled     bool   `json:"enabled"`
}

// StartMinutes 开始时间（距午夜分钟数）
func (w TimeWindow) StartMinutes() int {
	return w.StartHour*60 + w.StartMinute
}

// EndMinutes 结束时间（距午夜分钟数）
func (w TimeWindow) EndMinutes() int {
	return w.EndHour*60 + w.EndMinute
}

// AllDay 未配置起止时间
func (w TimeWindow) AllDay() bool {
	return w.StartHour == 0 && w.StartMinute == 0 && w.EndHour == 0 && w.EndMinute == 0
}

// Unbounded 既没有星期也没有时间配置，视为始终生效
func (w TimeWindow) Unbounded() bool {
	return len(w.Days) == 0 && w.AllDay()
}
