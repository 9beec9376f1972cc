package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// AlertRepository 报警记录仓库
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警记录仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// Create 写入一条报警记录
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) (string, error) {
	contextJSON, err := json.Marshal(alert.Context)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert context: %w", err)
	}

	var lat, lon sql.NullFloat64
	if alert.Location != nil {
		lat = sql.NullFloat64{Float64: alert.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: alert.Location.Longitude, Valid: true}
	}

	query := `
		INSERT INTO alerts (
			id,
			batch_id,
			protected_id,
			monitor_id,
			rule_id,
			alert_type,
			status,
			latitude,
			longitude,
			context,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id string
	err = r.db.QueryRowContext(ctx, query,
		alert.ID,
		alert.BatchID,
		alert.ProtectedID,
		alert.MonitorID,
		alert.RuleID,
		string(alert.Type),
		string(alert.Status),
		lat,
		lon,
		contextJSON,
		alert.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create alert: %w", err)
	}

	return id, nil
}

// UpdateStatus 条件更新状态（当前状态必须等于 From），返回是否发生变化
// 终态记录不会匹配 From，因此对终态的更新是无操作
func (r *AlertRepository) UpdateStatus(ctx context.Context, u models.StatusUpdate) (bool, error) {
	if !models.CanTransition(u.From, u.To) {
		return false, fmt.Errorf("invalid alert transition %s -> %s", u.From, u.To)
	}

	var cancelledAt sql.NullTime
	var cancelledBy sql.NullString
	if u.CancelledAt != nil {
		cancelledAt = sql.NullTime{Time: *u.CancelledAt, Valid: true}
	}
	if u.CancelledBy != nil {
		cancelledBy = sql.NullString{String: *u.CancelledBy, Valid: true}
	}

	query := `
		UPDATE alerts
		SET status = $3,
		    cancelled_at = COALESCE($4, cancelled_at),
		    cancelled_by = COALESCE($5, cancelled_by),
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query, u.AlertID, string(u.From), string(u.To), cancelledAt, cancelledBy)
	if err != nil {
		return false, fmt.Errorf("failed to update alert status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// AttachVideo 挂载录像引用（只在尚未挂载时生效）
func (r *AlertRepository) AttachVideo(ctx context.Context, alertID, videoRef string) (bool, error) {
	query := `
		UPDATE alerts
		SET video_ref = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND video_ref IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, alertID, videoRef)
	if err != nil {
		return false, fmt.Errorf("failed to attach video: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByBatch 获取同一批次的报警记录
func (r *AlertRepository) ListByBatch(ctx context.Context, batchID string) ([]models.Alert, error) {
	query := `
		SELECT
			id,
			batch_id,
			protected_id,
			monitor_id,
			rule_id,
			alert_type,
			status,
			latitude,
			longitude,
			video_ref,
			cancelled_at,
			cancelled_by,
			context,
			created_at
		FROM alerts
		WHERE batch_id = $1
		ORDER BY monitor_id
	`

	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var alertType, status string
		var lat, lon sql.NullFloat64
		var videoRef, cancelledBy sql.NullString
		var cancelledAt sql.NullTime
		var contextJSON []byte
		if err := rows.Scan(
			&a.ID,
			&a.BatchID,
			&a.ProtectedID,
			&a.MonitorID,
			&a.RuleID,
			&alertType,
			&status,
			&lat,
			&lon,
			&videoRef,
			&cancelledAt,
			&cancelledBy,
			&contextJSON,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Type = models.RuleType(alertType)
		a.Status = models.AlertStatus(status)
		if lat.Valid && lon.Valid {
			a.Location = &models.GeoPoint{Latitude: lat.Float64, Longitude: lon.Float64}
		}
		if videoRef.Valid {
			a.VideoRef = &videoRef.String
		}
		if cancelledAt.Valid {
			a.CancelledAt = &cancelledAt.Time
		}
		if cancelledBy.Valid {
			a.CancelledBy = &cancelledBy.String
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &a.Context); err != nil {
				r.logger.Warn("Invalid alert context", zap.String("alert_id", a.ID), zap.Error(err))
			}
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}
