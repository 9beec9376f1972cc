package repository

import (
	"context"
	"database/sql"
	"fmt"

	"safetysec-engine/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// TimeWindowRepository 监控时间窗口仓库（只读）
type TimeWindowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTimeWindowRepository 创建时间窗口仓库
func NewTimeWindowRepository(db *sql.DB, logger *zap.Logger) *TimeWindowRepository {
	return &TimeWindowRepository{
		db:     db,
		logger: logger,
	}
}

// ListEnabled 获取被监护人所有启用的时间窗口
func (r *TimeWindowRepository) ListEnabled(ctx context.Context, protectedID string) ([]models.TimeWindow, error) {
	query := `
		SELECT
			id,
			protected_id,
			name,
			start_hour,
			start_minute,
			end_hour,
			end_minute,
			days,
			enabled
		FROM time_windows
		WHERE protected_id = $1
		  AND enabled = TRUE
		ORDER BY start_hour, start_minute
	`

	rows, err := r.db.QueryContext(ctx, query, protectedID)
	if err != nil {
		return nil, fmt.Errorf("failed to query time windows: %w", err)
	}
	defer rows.Close()

	var windows []models.TimeWindow
	for rows.Next() {
		var w models.TimeWindow
		var name sql.NullString
		var days pq.Int64Array
		if err := rows.Scan(
			&w.ID,
			&w.ProtectedID,
			&name,
			&w.StartHour,
			&w.StartMinute,
			&w.EndHour,
			&w.EndMinute,
			&days,
			&w.Enabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan time window: %w", err)
		}
		w.Name = name.String
		for _, d := range days {
			if d < 1 || d > 7 {
				r.logger.Warn("Ignoring invalid weekday in time window",
					zap.String("window_id", w.ID),
					zap.Int64("day", d),
				)
				continue
			}
			w.Days = append(w.Days, int(d))
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate time windows: %w", err)
	}

	return windows, nil
}
