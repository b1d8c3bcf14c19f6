package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/pkg/database"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// ReviewRepository implements repository.ReviewRepository using PostgreSQL.
type ReviewRepository struct {
	pool database.DBTX
}

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

const reviewColumns = `id, rule_id, user_id, rating, comment, verified, helpful_count, reported, report_reason, is_active, created_at, updated_at`

// Create inserts a new review. The partial unique index on active reviews
// rejects a second review from the same user for the same rule.
func (r *ReviewRepository) Create(ctx context.Context, review *domain.Review) error {
	query := `
		INSERT INTO reviews (` + reviewColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		review.ID,
		review.RuleID,
		review.UserID,
		review.Rating,
		review.Comment,
		review.Verified,
		review.HelpfulCount,
		review.Reported,
		review.ReportReason,
		review.IsActive,
		review.CreatedAt,
		review.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("DUPLICATE_REVIEW", "user has already reviewed this rule")
		}
		return fmt.Errorf("insert review: %w", err)
	}

	return nil
}

// GetByID retrieves a review by its ID.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*domain.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE id = $1`

	var review domain.Review

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&review.ID,
		&review.RuleID,
		&review.UserID,
		&review.Rating,
		&review.Comment,
		&review.Verified,
		&review.HelpfulCount,
		&review.Reported,
		&review.ReportReason,
		&review.IsActive,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}

	return &review, nil
}

// Update persists changes to a review's rating and comment.
func (r *ReviewRepository) Update(ctx context.Context, review *domain.Review) error {
	review.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE reviews
		SET rating = $1, comment = $2, updated_at = $3
		WHERE id = $4 AND is_active`

	ct, err := r.pool.Exec(ctx, query, review.Rating, review.Comment, review.UpdatedAt, review.ID)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("review", review.ID)
	}

	return nil
}

// SoftDelete deactivates a review. The row stays for audit, but the review no
// longer counts toward the rule's rating and its slot frees up for a new one.
func (r *ReviewRepository) SoftDelete(ctx context.Context, id string) error {
	query := `
		UPDATE reviews
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active`

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft delete review: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("review", id)
	}

	return nil
}

// ListByRule returns active reviews for a rule with pagination, newest first.
func (r *ReviewRepository) ListByRule(ctx context.Context, ruleID string, offset, limit int) ([]domain.Review, int, error) {
	query := `
		SELECT ` + reviewColumns + `,
		       count(*) OVER() AS total_count
		FROM reviews
		WHERE rule_id = $1 AND is_active
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, ruleID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews by rule: %w", err)
	}
	defer rows.Close()

	var (
		reviews    []domain.Review
		totalCount int
	)

	for rows.Next() {
		var review domain.Review
		if err := rows.Scan(
			&review.ID,
			&review.RuleID,
			&review.UserID,
			&review.Rating,
			&review.Comment,
			&review.Verified,
			&review.HelpfulCount,
			&review.Reported,
			&review.ReportReason,
			&review.IsActive,
			&review.CreatedAt,
			&review.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}

	if reviews == nil {
		reviews = []domain.Review{}
	}

	return reviews, totalCount, nil
}

// GetSummary returns the average rating and count over a rule's active
// reviews.
func (r *ReviewRepository) GetSummary(ctx context.Context, ruleID string) (*domain.RatingSummary, error) {
	query := `
		SELECT COALESCE(AVG(rating), 0), COUNT(*)
		FROM reviews
		WHERE rule_id = $1 AND is_active`

	var summary domain.RatingSummary

	if err := r.pool.QueryRow(ctx, query, ruleID).Scan(&summary.Rating, &summary.ReviewCount); err != nil {
		return nil, fmt.Errorf("scan rating summary: %w", err)
	}

	// Round average rating to one decimal place.
	summary.Rating = math.Round(summary.Rating*10) / 10

	return &summary, nil
}

// SetHelpful records or withdraws a user's helpful vote. The vote table's
// primary key makes both directions idempotent; the denormalized counter on
// the review moves only when a row is actually inserted or deleted.
func (r *ReviewRepository) SetHelpful(ctx context.Context, reviewID, userID string, helpful bool) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var voteQuery string
	if helpful {
		voteQuery = `
			INSERT INTO review_helpful_votes (review_id, user_id, created_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING`
	} else {
		voteQuery = `
			DELETE FROM review_helpful_votes
			WHERE review_id = $1 AND user_id = $2`
	}

	ct, err := tx.Exec(ctx, voteQuery, reviewID, userID)
	if err != nil {
		return 0, fmt.Errorf("set helpful vote: %w", err)
	}

	delta := int(ct.RowsAffected())
	if !helpful {
		delta = -delta
	}

	var count int

	countQuery := `
		UPDATE reviews
		SET helpful_count = helpful_count + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING helpful_count`

	if err := tx.QueryRow(ctx, countQuery, delta, reviewID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NotFound("review", reviewID)
		}
		return 0, fmt.Errorf("update helpful count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit helpful vote: %w", err)
	}

	return count, nil
}

// Moderate applies an admin moderation decision to a reported review.
func (r *ReviewRepository) Moderate(ctx context.Context, review *domain.Review) error {
	review.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE reviews
		SET reported = $1, report_reason = $2, is_active = $3, updated_at = $4
		WHERE id = $5`

	ct, err := r.pool.Exec(ctx, query,
		review.Reported,
		review.ReportReason,
		review.IsActive,
		review.UpdatedAt,
		review.ID,
	)
	if err != nil {
		return fmt.Errorf("moderate review: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("review", review.ID)
	}

	return nil
}
