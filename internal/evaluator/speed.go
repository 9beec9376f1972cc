package evaluator

import (
	"time"

	"safetysec-engine/internal/models"
)

// MpsToKmh m/s 转 km/h
const MpsToKmh = 3.6

// SpeedDetector 限速检测
type SpeedDetector struct{}

// Detect 上下文记录 speed（km/h）
func (d *SpeedDetector) Detect(fix models.LocationFix, at time.Time, rules []models.Rule) []models.Candidate {
	kmh := fix.Speed * MpsToKmh
	point := fix.Point()

	var out []models.Candidate
	for _, r := range enabledOfType(rules, models.RuleTypeSpeedControl) {
		params, ok := r.Speed()
		if !ok || params.MaxSpeedKmh <= 0 {
			continue
		}
		if kmh > params.MaxSpeedKmh {
			out = append(out, newCandidate(r, at, &point, map[string]interface{}{
				"speed":    kmh,
				"maxSpeed": params.MaxSpeedKmh,
			}))
		}
	}
	return out
}
