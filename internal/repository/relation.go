package repository

import (
	"context"
	"database/sql"
	"fmt"

	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// RelationRepository 监护关系仓库（只读）
type RelationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRelationRepository 创建监护关系仓库
func NewRelationRepository(db *sql.DB, logger *zap.Logger) *RelationRepository {
	return &RelationRepository{
		db:     db,
		logger: logger,
	}
}

// ApprovedMonitors 获取已批准的监护人ID
func (r *RelationRepository) ApprovedMonitors(ctx context.Context, protectedID string) ([]string, error) {
	query := `
		SELECT DISTINCT monitor_id
		FROM monitor_protected_relations
		WHERE protected_id = $1
		  AND status = $2
		ORDER BY monitor_id
	`

	rows, err := r.db.QueryContext(ctx, query, protectedID, string(models.RelationStatusApproved))
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var monitors []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		monitors = append(monitors, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate relations: %w", err)
	}
	return monitors, nil
}
