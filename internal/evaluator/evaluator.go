package evaluator

import (
	"time"

	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// Evaluator 规则评估器
// 持有加速度检测所需的上一个采样值，只能在引擎的单一消费循环中使用
type Evaluator struct {
	logger *zap.Logger

	fall       *FallDetector
	accident   *AccidentDetector
	geofence   *GeofenceDetector
	speed      *SpeedDetector
	inactivity *InactivityDetector
	panic      *PanicDetector

	prevMagnitude float64
	hasPrev       bool
}

// NewEvaluator 创建评估器
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{
		logger:     logger,
		fall:       &FallDetector{Threshold: FallThreshold},
		accident:   &AccidentDetector{Threshold: AccidentThreshold},
		geofence:   &GeofenceDetector{},
		speed:      &SpeedDetector{},
		inactivity: &InactivityDetector{},
		panic:      &PanicDetector{},
	}
}

// EvaluateAccel 评估加速度采样（跌倒、事故）
func (e *Evaluator) EvaluateAccel(sample models.AccelSample, rules []models.Rule, loc *models.GeoPoint) []models.Candidate {
	magnitude := Magnitude(sample)
	at := sampleTime(sample.At)

	var candidates []models.Candidate
	candidates = append(candidates, e.fall.Detect(magnitude, at, rules, loc)...)
	if e.hasPrev {
		candidates = append(candidates, e.accident.Detect(e.prevMagnitude, magnitude, at, rules, loc)...)
	}

	e.prevMagnitude = magnitude
	e.hasPrev = true

	if len(candidates) > 0 {
		e.logger.Debug("Accelerometer sample produced candidates",
			zap.Float64("magnitude", magnitude),
			zap.Int("count", len(candidates)),
		)
	}
	return candidates
}

// EvaluateLocation 评估定位采样（地理围栏、限速）
func (e *Evaluator) EvaluateLocation(fix models.LocationFix, rules []models.Rule) []models.Candidate {
	at := sampleTime(fix.At)

	var candidates []models.Candidate
	candidates = append(candidates, e.geofence.Detect(fix, at, rules)...)
	candidates = append(candidates, e.speed.Detect(fix, at, rules)...)
	return candidates
}

// EvaluateInactivity 周期性无活动检查
func (e *Evaluator) EvaluateInactivity(now, lastActivity time.Time, rules []models.Rule, loc *models.GeoPoint) []models.Candidate {
	return e.inactivity.Detect(now, lastActivity, rules, loc)
}

// EvaluatePanic 紧急按钮（不受时间窗口限制）
func (e *Evaluator) EvaluatePanic(at time.Time, protectedID string, rules []models.Rule, loc *models.GeoPoint) models.Candidate {
	return e.panic.Detect(sampleTime(at), protectedID, rules, loc)
}

// Reset 清除加速度历史（离开监控窗口时调用）
func (e *Evaluator) Reset() {
	e.prevMagnitude = 0
	e.hasPrev = false
}

func sampleTime(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now()
	}
	return at
}

func newCandidate(rule models.Rule, at time.Time, loc *models.GeoPoint, ctx map[string]interface{}) models.Candidate {
	var point *models.GeoPoint
	if loc != nil {
		p := *loc
		point = &p
	}
	if ctx == nil {
		ctx = map[string]interface{}{}
	}
	return models.Candidate{
		RuleID:     rule.ID,
		RuleType:   rule.Type,
		MonitorID:  rule.MonitorID,
		Location:   point,
		Context:    ctx,
		DetectedAt: at,
	}
}

func enabledOfType(rules []models.Rule, t models.RuleType) []models.Rule {
	var out []models.Rule
	for _, r := range rules {
		if r.Enabled && r.Type == t {
			out = append(out, r)
		}
	}
	return out
}
