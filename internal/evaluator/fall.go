package evaluator

import (
	"time"

	"safetysec-engine/internal/models"
)

// FallThreshold 跌倒阈值（m/s²）
const FallThreshold = 25.0

// FallDetector 单采样跌倒检测：合成加速度超过阈值即触发
type FallDetector struct {
	Threshold float64
}

// Detect 每条启用的 FALL_DETECTION 规则产生一个候选
func (d *FallDetector) Detect(magnitude float64, at time.Time, rules []models.Rule, loc *models.GeoPoint) []models.Candidate {
	if magnitude <= d.Threshold {
		return nil
	}
	var out []models.Candidate
	for _, r := range enabledOfType(rules, models.RuleTypeFallDetection) {
		out = append(out, newCandidate(r, at, loc, nil))
	}
	return out
}
