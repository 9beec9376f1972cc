package evaluator

import (
	"math"
	"time"

	"safetysec-engine/internal/models"
)

// GeofenceDetector 地理围栏检测
// 规则可配置多个中心点，定位在所有中心点半径之外才算越界
type GeofenceDetector struct{}

// Detect 上下文记录到最近中心点的距离（米）
func (d *GeofenceDetector) Detect(fix models.LocationFix, at time.Time, rules []models.Rule) []models.Candidate {
	point := fix.Point()

	var out []models.Candidate
	for _, r := range enabledOfType(rules, models.RuleTypeGeofencing) {
		params, ok := r.Geofence()
		if !ok || params.RadiusMeters <= 0 || len(params.Centers) == 0 {
			continue
		}

		nearest := math.Inf(1)
		var nearestCenter models.GeoCenter
		for _, c := range params.Centers {
			dist := Haversine(point, models.GeoPoint{Latitude: c.Latitude, Longitude: c.Longitude})
			if dist < nearest {
				nearest = dist
				nearestCenter = c
			}
		}
		if nearest <= params.RadiusMeters {
			continue
		}

		ctx := map[string]interface{}{
			"distance": nearest,
			"radius":   params.RadiusMeters,
		}
		if nearestCenter.Name != "" {
			ctx["center"] = nearestCenter.Name
		}
		out = append(out, newCandidate(r, at, &point, ctx))
	}
	return out
}
