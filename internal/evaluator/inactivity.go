package evaluator

import (
	"time"

	"safetysec-engine/internal/models"
)

// InactivityCheckInterval 无活动检查周期
const InactivityCheckInterval = 60 * time.Second

// InactivityDetector 无活动检测
// 检查本身不刷新最后活动时间，持续无活动时每个周期都会再次触发
type InactivityDetector struct{}

// Detect 上下文记录 inactiveMinutes（已过去的分钟数）
func (d *InactivityDetector) Detect(now, lastActivity time.Time, rules []models.Rule, loc *models.GeoPoint) []models.Candidate {
	if lastActivity.IsZero() {
		return nil
	}
	elapsed := now.Sub(lastActivity)

	var out []models.Candidate
	for _, r := range enabledOfType(rules, models.RuleTypeInactivity) {
		params, ok := r.Inactivity()
		if !ok || params.Minutes <= 0 {
			continue
		}
		if elapsed > time.Duration(params.Minutes)*time.Minute {
			out = append(out, newCandidate(r, now, loc, map[string]interface{}{
				"inactiveMinutes": elapsed.Minutes(),
			}))
		}
	}
	return out
}
