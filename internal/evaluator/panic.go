package evaluator

import (
	"time"

	"safetysec-engine/internal/models"
)

// PanicDetector 紧急按钮：优先使用启用的 PANIC_BUTTON 规则，否则使用临时规则
type PanicDetector struct{}

// Detect 总是产生一个候选
func (d *PanicDetector) Detect(at time.Time, protectedID string, rules []models.Rule, loc *models.GeoPoint) models.Candidate {
	rule := models.SyntheticPanicRule(protectedID)
	if matching := enabledOfType(rules, models.RuleTypePanicButton); len(matching) > 0 {
		rule = matching[0]
	}
	return newCandidate(rule, at, loc, map[string]interface{}{"manual": true})
}
