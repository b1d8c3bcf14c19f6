package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/pkg/database"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// RuleRepository implements repository.RuleRepository using PostgreSQL.
type RuleRepository struct {
	pool database.DBTX
}

// NewRuleRepository creates a new PostgreSQL-backed rule repository.
func NewRuleRepository(pool database.DBTX) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// GetByID retrieves a rule by its ID.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	query := `
		SELECT id, owner_id, title, description, query_text, query_format, severity,
		       is_paid, price_amount, price_currency,
		       rating, review_count, downloads, purchases, revenue,
		       is_active, created_at, updated_at
		FROM rules
		WHERE id = $1`

	var rule domain.Rule

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.Title,
		&rule.Description,
		&rule.QueryText,
		&rule.QueryFormat,
		&rule.Severity,
		&rule.Pricing.IsPaid,
		&rule.Pricing.Amount,
		&rule.Pricing.Currency,
		&rule.Statistics.Rating,
		&rule.Statistics.ReviewCount,
		&rule.Statistics.Downloads,
		&rule.Statistics.Purchases,
		&rule.Statistics.Revenue,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("rule", id)
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	return &rule, nil
}

// IncrementDownloads bumps the download counter for a rule.
func (r *RuleRepository) IncrementDownloads(ctx context.Context, id string) error {
	query := `
		UPDATE rules
		SET downloads = downloads + 1, updated_at = NOW()
		WHERE id = $1`

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment rule downloads: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("rule", id)
	}

	return nil
}

// RecomputeRating recalculates the rule's average rating and review count
// from its active reviews. The aggregate and the update run in one statement,
// so concurrent review writes cannot interleave a stale value.
func (r *RuleRepository) RecomputeRating(ctx context.Context, ruleID string) error {
	query := `
		UPDATE rules
		SET rating = agg.rating, review_count = agg.review_count, updated_at = NOW()
		FROM (
			SELECT COALESCE(AVG(rating), 0) AS rating, COUNT(*) AS review_count
			FROM reviews
			WHERE rule_id = $1 AND is_active
		) AS agg
		WHERE rules.id = $1`

	ct, err := r.pool.Exec(ctx, query, ruleID)
	if err != nil {
		return fmt.Errorf("recompute rule rating: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("rule", ruleID)
	}

	return nil
}
