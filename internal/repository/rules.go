package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/opensource-finance/carsim/internal/domain"
)

// SaveAdjustmentRule upserts a custom adjustment rule. Built-in rules live in
// the rules engine and are never stored.
func (r *SQLRepository) SaveAdjustmentRule(ctx context.Context, rule *domain.AdjustmentRule) error {
	if rule.Builtin {
		return fmt.Errorf("%w: built-in rules cannot be stored", ErrInvalidInput)
	}
	if rule.Name == "" || rule.Condition == "" || rule.Amount == "" {
		return fmt.Errorf("%w: rule name, condition and amount are required", ErrInvalidInput)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.Code = domain.StepCustomAdjustment

	now := r.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO adjustment_rules (
			id, name, description, condition_expr, amount_expr, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			condition_expr = excluded.condition_expr,
			amount_expr = excluded.amount_expr,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Condition, rule.Amount,
		boolToInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// ListAdjustmentRules returns all custom rules, enabled or not, ordered by name.
func (r *SQLRepository) ListAdjustmentRules(ctx context.Context) ([]*domain.AdjustmentRule, error) {
	query := `
		SELECT id, name, description, condition_expr, amount_expr, enabled, created_at, updated_at
		FROM adjustment_rules
		ORDER BY name, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []*domain.AdjustmentRule{}
	for rows.Next() {
		var rule domain.AdjustmentRule
		var description sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &description, &rule.Condition, &rule.Amount,
			&enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Code = domain.StepCustomAdjustment
		rule.Description = description.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteAdjustmentRule removes a custom rule.
func (r *SQLRepository) DeleteAdjustmentRule(ctx context.Context, id string) error {
	return r.execAffected(ctx, `DELETE FROM adjustment_rules WHERE id = ?`, id)
}
