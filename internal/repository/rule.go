package repository

import (
	"context"
	"database/sql"
	"fmt"

	"safetysec-engine/internal/models"

	"go.uber.org/zap"
)

// RuleRepository 监控规则仓库（只读）
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository 创建监控规则仓库
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

// ListEnabled 获取被监护人所有启用的规则
// 未知规则类型跳过；参数解析失败时使用该类型的零值参数
func (r *RuleRepository) ListEnabled(ctx context.Context, protectedID string) ([]models.Rule, error) {
	if protectedID == "" {
		return nil, fmt.Errorf("protected_id is required")
	}

	query := `
		SELECT
			id,
			monitor_id,
			protected_id,
			rule_type,
			enabled,
			params,
			created_at,
			updated_at
		FROM monitoring_rules
		WHERE protected_id = $1
		  AND enabled = TRUE
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, protectedID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var rule models.Rule
		var ruleType string
		var params []byte
		if err := rows.Scan(
			&rule.ID,
			&rule.MonitorID,
			&rule.ProtectedID,
			&ruleType,
			&rule.Enabled,
			&params,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rule.Type = models.RuleType(ruleType)
		if !rule.Type.Valid() {
			r.logger.Warn("Skipping rule with unknown type",
				zap.String("rule_id", rule.ID),
				zap.String("rule_type", ruleType),
			)
			continue
		}

		decoded, err := models.DecodeRuleParams(rule.Type, params)
		if err != nil {
			r.logger.Warn("Invalid rule params, using defaults",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
		}
		rule.Params = decoded
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}

	return rules, nil
}
