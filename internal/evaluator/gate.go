package evaluator

import (
	"time"

	"safetysec-engine/internal/models"
)

// ISOWeekday 将 time.Weekday（周日=0）转换为 1=周一 .. 7=周日
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// MinuteOfDay 距午夜的分钟数
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// IsArmed 判断当前时刻是否处于监控时间窗口内
// 没有启用的窗口时默认开启；多个窗口之间为 OR 关系
// 结束时间早于开始时间的窗口不跨午夜，只按当天区间匹配
func IsArmed(now time.Time, windows []models.TimeWindow) bool {
	day := ISOWeekday(now)
	minute := MinuteOfDay(now)

	enabled := 0
	for _, w := range windows {
		if !w.Enabled {
			continue
		}
		enabled++
		if windowMatches(w, day, minute) {
			return true
		}
	}
	return enabled == 0
}

func windowMatches(w models.TimeWindow, day, minute int) bool {
	if w.Unbounded() {
		return true
	}
	if len(w.Days) > 0 && !containsDay(w.Days, day) {
		return false
	}
	if w.AllDay() {
		return true
	}
	return minute >= w.StartMinutes() && minute <= w.EndMinutes()
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
