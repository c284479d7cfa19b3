package repository

import (
	"context"
	"database/sql"

	"github.com/hundehilfe/kassenbuch/internal/taxonomy"
)

// RuleRepo stores categorization rules.
type RuleRepo struct {
	db DBTX
}

func NewRuleRepo(db DBTX) *RuleRepo { return &RuleRepo{db: db} }

// WithTx returns a repo bound to the given transaction.
func (r *RuleRepo) WithTx(tx *sql.Tx) *RuleRepo { return &RuleRepo{db: tx} }

func (r *RuleRepo) Insert(ctx context.Context, cr CategoryRule) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO category_rules(id, pattern, category, priority, match_count, user_defined, min_amount, max_amount, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, cr.ID, cr.Pattern, string(cr.Category), cr.Priority, cr.MatchCount, cr.UserDefined, cr.MinAmount, cr.MaxAmount)
	return err
}

// List returns all rules, highest priority first. Ties resolve by
// creation time then id, so rule order is stable across calls.
func (r *RuleRepo) List(ctx context.Context) ([]CategoryRule, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, pattern, category, priority, match_count, user_defined, min_amount, max_amount, created_at, updated_at
	FROM category_rules
	ORDER BY priority DESC, created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CategoryRule
	for rows.Next() {
		var cr CategoryRule
		var category string
		var minA, maxA sql.NullFloat64
		if err := rows.Scan(&cr.ID, &cr.Pattern, &category, &cr.Priority, &cr.MatchCount,
			&cr.UserDefined, &minA, &maxA, &cr.CreatedAt, &cr.UpdatedAt); err != nil {
			return nil, err
		}
		cr.Category = taxonomy.Category(category)
		if minA.Valid {
			cr.MinAmount = &minA.Float64
		}
		if maxA.Valid {
			cr.MaxAmount = &maxA.Float64
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// IncrementMatch bumps the usage counter after a successful match.
func (r *RuleRepo) IncrementMatch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE category_rules SET match_count = match_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// Update rewrites the mutable fields of an existing rule (boosting).
func (r *RuleRepo) Update(ctx context.Context, cr CategoryRule) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE category_rules
	SET pattern = ?, category = ?, priority = ?, match_count = ?, user_defined = ?,
	    min_amount = ?, max_amount = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`,
		cr.Pattern, string(cr.Category), cr.Priority, cr.MatchCount, cr.UserDefined,
		cr.MinAmount, cr.MaxAmount, cr.ID)
	return err
}

// Delete removes a rule. Rules are never deleted automatically; this
// backs the explicit user action only.
func (r *RuleRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM category_rules WHERE id = ?`, id)
	return err
}

// Count returns the number of stored rules.
func (r *RuleRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM category_rules`).Scan(&n)
	return n, err
}
