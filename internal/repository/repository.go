package repository

import (
	"context"

	"github.com/sigmahub/marketplace/internal/domain"
)

// RuleRepository defines the interface for rule persistence operations.
type RuleRepository interface {
	// GetByID retrieves a rule by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Rule, error)

	// IncrementDownloads bumps the download counter for a rule.
	IncrementDownloads(ctx context.Context, id string) error

	// RecomputeRating recalculates the rule's average rating and review
	// count from its active reviews in a single atomic statement.
	RecomputeRating(ctx context.Context, ruleID string) error
}

// TransactionRepository defines the interface for transaction persistence.
type TransactionRepository interface {
	// CreateCompleted atomically records a completed transaction, mints
	// the purchase entitlement, and updates the rule's sales counters.
	// Returns a conflict error if the buyer already holds an active
	// entitlement for the rule.
	CreateCompleted(ctx context.Context, txn *domain.Transaction, purchase *domain.Purchase) error

	// GetByID retrieves a transaction by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// UpdateStatus transitions a transaction from one status to another
	// and persists its metadata. The update only applies when the current
	// status matches the expected value; otherwise a conflict error is
	// returned.
	UpdateStatus(ctx context.Context, txn *domain.Transaction, from, to string) error

	// MarkRefunded atomically finalizes a refund: transitions the
	// transaction from disputed to refunded, reverses the seller's
	// earnings on the rule, and deactivates the purchase entitlement.
	MarkRefunded(ctx context.Context, txn *domain.Transaction) error

	// ListByBuyer returns transactions for a buyer with pagination.
	// Returns the transaction slice, the total count, and any error.
	ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Transaction, int, error)

	// ListBySeller returns transactions for a seller with pagination.
	ListBySeller(ctx context.Context, sellerID string, offset, limit int) ([]domain.Transaction, int, error)
}

// PurchaseRepository defines the interface for purchase persistence.
type PurchaseRepository interface {
	// GetByID retrieves a purchase by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Purchase, error)

	// GetActive retrieves the buyer's active purchase for a rule, if any.
	GetActive(ctx context.Context, buyerID, ruleID string) (*domain.Purchase, error)

	// ListByBuyer returns purchases for a buyer with pagination.
	ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Purchase, int, error)

	// RecordDownload appends a download record to the purchase and bumps
	// its download counter.
	RecordDownload(ctx context.Context, purchaseID string, record domain.DownloadRecord) error
}

// AccessCache caches per-(user, rule) access decisions in front of the
// purchase store.
type AccessCache interface {
	// Get returns the cached decision and whether an entry was present.
	Get(ctx context.Context, userID, ruleID string) (hasAccess bool, found bool, err error)

	// Set caches a decision.
	Set(ctx context.Context, userID, ruleID string, hasAccess bool) error

	// Invalidate drops the cached decision for a (user, rule) pair.
	Invalidate(ctx context.Context, userID, ruleID string) error
}

// ReviewRepository defines the interface for review persistence.
type ReviewRepository interface {
	// Create inserts a new review. Returns a conflict error if the user
	// already has an active review for the rule.
	Create(ctx context.Context, review *domain.Review) error

	// GetByID retrieves a review by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// Update persists changes to a review's rating and comment.
	Update(ctx context.Context, review *domain.Review) error

	// SoftDelete deactivates a review without removing the row.
	SoftDelete(ctx context.Context, id string) error

	// ListByRule returns active reviews for a rule with pagination.
	ListByRule(ctx context.Context, ruleID string, offset, limit int) ([]domain.Review, int, error)

	// GetSummary returns the rating summary over a rule's active reviews.
	GetSummary(ctx context.Context, ruleID string) (*domain.RatingSummary, error)

	// SetHelpful records or withdraws a user's helpful vote on a review
	// and returns the updated vote count. Both directions are idempotent.
	SetHelpful(ctx context.Context, reviewID, userID string, helpful bool) (int, error)

	// Moderate applies an admin moderation decision: approve clears the
	// report flag, remove deactivates the review.
	Moderate(ctx context.Context, review *domain.Review) error
}
