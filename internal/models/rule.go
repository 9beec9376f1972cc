package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleType 监控规则类型
type RuleType string

const (
	RuleTypeFallDetection RuleType = "FALL_DETECTION"
	RuleTypeAccident      RuleType = "ACCIDENT"
	RuleTypeGeofencing    RuleType = "GEOFENCING"
	RuleTypeSpeedControl  RuleType = "SPEED_CONTROL"
	RuleTypeInactivity    RuleType = "INACTIVITY"
	RuleTypePanicButton   RuleType = "PANIC_BUTTON"
)

// Valid 是否为已知规则类型
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeFallDetection, RuleTypeAccident, RuleTypeGeofencing,
		RuleTypeSpeedControl, RuleTypeInactivity, RuleTypePanicButton:
		return true
	}
	return false
}

// Rule 监控规则（由监护人创建，引擎只读）
type Rule struct {
	ID          string     `json:"id"`
	MonitorID   string     `json:"monitor_id"`
	ProtectedID string     `json:"protected_id"`
	Type        RuleType   `json:"rule_type"`
	Enabled     bool       `json:"enabled"`
	Params      RuleParams `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RuleParams 规则参数（按规则类型区分的 tagged union）
type RuleParams interface {
	RuleType() RuleType
}

// FallParams 跌倒检测无参数
type FallParams struct{}

// AccidentParams 事故检测无参数
type AccidentParams struct{}

// PanicParams 紧急按钮无参数
type PanicParams struct{}

// GeoCenter 命名的地理围栏中心点
type GeoCenter struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeofenceParams 地理围栏参数：半径（米）+ 一个或多个中心点
type GeofenceParams struct {
	RadiusMeters float64     `json:"radius"`
	Centers      []GeoCenter `json:"centers"`
}

// SpeedParams 限速参数（km/h）
type SpeedParams struct {
	MaxSpeedKmh float64 `json:"max_speed"`
}

// InactivityParams 无活动参数（分钟）
type InactivityParams struct {
	Minutes int `json:"inactivity_minutes"`
}

func (FallParams) RuleType() RuleType       { return RuleTypeFallDetection }
func (AccidentParams) RuleType() RuleType   { return RuleTypeAccident }
func (PanicParams) RuleType() RuleType      { return RuleTypePanicButton }
func (GeofenceParams) RuleType() RuleType   { return RuleTypeGeofencing }
func (SpeedParams) RuleType() RuleType      { return RuleTypeSpeedControl }
func (InactivityParams) RuleType() RuleType { return RuleTypeInactivity }

// geofenceJSON 兼容单中心点的旧格式 {"latitude":..,"longitude":..,"radius":..}
type geofenceJSON struct {
	Radius    float64     `json:"radius"`
	Centers   []GeoCenter `json:"centers"`
	Name      string      `json:"name"`
	Latitude  *float64    `json:"latitude"`
	Longitude *float64    `json:"longitude"`
}

// DecodeRuleParams 按规则类型解析参数 JSON
// 与类型无关的字段直接忽略；空参数返回该类型的零值
func DecodeRuleParams(t RuleType, raw []byte) (RuleParams, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}

	switch t {
	case RuleTypeFallDetection:
		return FallParams{}, nil
	case RuleTypeAccident:
		return AccidentParams{}, nil
	case RuleTypePanicButton:
		return PanicParams{}, nil
	case RuleTypeGeofencing:
		var g geofenceJSON
		if err := json.Unmarshal(raw, &g); err != nil {
			return GeofenceParams{}, fmt.Errorf("failed to decode geofencing params: %w", err)
		}
		params := GeofenceParams{RadiusMeters: g.Radius, Centers: g.Centers}
		if len(params.Centers) == 0 && g.Latitude != nil && g.Longitude != nil {
			params.Centers = []GeoCenter{{Name: g.Name, Latitude: *g.Latitude, Longitude: *g.Longitude}}
		}
		return params, nil
	case RuleTypeSpeedControl:
		var p SpeedParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return SpeedParams{}, fmt.Errorf("failed to decode speed params: %w", err)
		}
		return p, nil
	case RuleTypeInactivity:
		var p InactivityParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return InactivityParams{}, fmt.Errorf("failed to decode inactivity params: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown rule type: %s", t)
	}
}

// Geofence 返回地理围栏参数
func (r Rule) Geofence() (GeofenceParams, bool) {
	p, ok := r.Params.(GeofenceParams)
	return p, ok
}

// Speed 返回限速参数
func (r Rule) Speed() (SpeedParams, bool) {
	p, ok := r.Params.(SpeedParams)
	return p, ok
}

// Inactivity 返回无活动参数
func (r Rule) Inactivity() (InactivityParams, bool) {
	p, ok := r.Params.(InactivityParams)
	return p, ok
}

// SyntheticPanicRuleID 没有 PANIC_BUTTON 规则时使用的临时规则ID
const SyntheticPanicRuleID = "adhoc-panic"

// SyntheticPanicRule 构造临时的紧急按钮规则
func SyntheticPanicRule(protectedID string) Rule {
	return Rule{
		ID:          SyntheticPanicRuleID,
		ProtectedID: protectedID,
		Type:        RuleTypePanicButton,
		Enabled:     true,
		Params:      PanicParams{},
	}
}
