package evaluator

import (
	"math"
	"time"

	"safetysec-engine/internal/models"
)

// AccidentThreshold 减速阈值（m/s²，负值）
const AccidentThreshold = -15.0

// AccidentDetector 事故检测：相邻两次合成加速度之差低于阈值
type AccidentDetector struct {
	Threshold float64
}

// Detect 上下文记录 deceleration = |current - previous|
func (d *AccidentDetector) Detect(previous, current float64, at time.Time, rules []models.Rule, loc *models.GeoPoint) []models.Candidate {
	delta := current - previous
	if delta >= d.Threshold {
		return nil
	}
	var out []models.Candidate
	for _, r := range enabledOfType(rules, models.RuleTypeAccident) {
		out = append(out, newCandidate(r, at, loc, map[string]interface{}{
			"deceleration": math.Abs(delta),
		}))
	}
	return out
}
