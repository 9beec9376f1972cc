package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// ProfileRepository 用户资料仓库（只读）
type ProfileRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProfileRepository 创建用户资料仓库
func NewProfileRepository(db *sql.DB, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:     db,
		logger: logger,
	}
}

// Profile 获取被监护人的显示名和取消码
func (r *ProfileRepository) Profile(ctx context.Context, protectedID string) (*models.Profile, error) {
	query := `
		SELECT id, COALESCE(display_name, ''), COALESCE(cancellation_code, '')
		FROM users
		WHERE id = $1
	`

	var p models.Profile
	err := r.db.QueryRowContext(ctx, query, protectedID).Scan(&p.ID, &p.DisplayName, &p.CancellationCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", protectedID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}
