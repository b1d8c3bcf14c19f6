package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/internal/event"
	"github.com/sigmahub/marketplace/internal/notify"
	"github.com/sigmahub/marketplace/internal/repository"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// Moderation action constants.
const (
	ModerationActionApprove = "approve"
	ModerationActionRemove  = "remove"
)

// ReviewService implements the business logic for reviews and the rule
// rating aggregate.
type ReviewService struct {
	reviewRepo   repository.ReviewRepository
	ruleRepo     repository.RuleRepository
	entitlements *EntitlementService
	producer     *event.Producer
	notifier     notify.Notifier
	logger       *slog.Logger
}

// NewReviewService creates a new review service.
func NewReviewService(
	reviewRepo repository.ReviewRepository,
	ruleRepo repository.RuleRepository,
	entitlements *EntitlementService,
	producer *event.Producer,
	notifier notify.Notifier,
	logger *slog.Logger,
) *ReviewService {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &ReviewService{
		reviewRepo:   reviewRepo,
		ruleRepo:     ruleRepo,
		entitlements: entitlements,
		producer:     producer,
		notifier:     notifier,
		logger:       logger,
	}
}

// SubmitReviewInput holds the parameters for submitting a review.
type SubmitReviewInput struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

// UpdateReviewInput holds the parameters for editing a review. Nil fields are
// left unchanged.
type UpdateReviewInput struct {
	Rating  *int    `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	Comment *string `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

// ModerateReviewInput holds an admin moderation decision.
type ModerateReviewInput struct {
	Action string `json:"action" validate:"required,oneof=approve remove"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// Submit creates a review for a rule. Paid rules require an entitlement,
// which also marks the review as a verified purchase. The rule's aggregate
// rating is recomputed from the authoritative review set afterward.
func (s *ReviewService) Submit(ctx context.Context, userID, ruleID string, input *SubmitReviewInput) (*domain.Review, error) {
	if !domain.IsValidRating(input.Rating) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("rating must be between %d and %d", domain.MinRating, domain.MaxRating))
	}
	if len(input.Comment) > domain.MaxCommentLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("comment exceeds %d characters", domain.MaxCommentLength))
	}

	rule, err := s.ruleRepo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("get rule for review: %w", err)
	}
	if !rule.IsActive {
		return nil, apperrors.NotFound("rule", ruleID)
	}

	verified := false
	if rule.Pricing.IsPaid {
		hasAccess, err := s.entitlements.HasActiveAccess(ctx, userID, rule)
		if err != nil {
			return nil, fmt.Errorf("check review access: %w", err)
		}
		if !hasAccess {
			return nil, apperrors.Forbidden("purchase required to review this rule")
		}
		verified = true
	}

	now := time.Now().UTC()
	review := &domain.Review{
		ID:        uuid.New().String(),
		RuleID:    ruleID,
		UserID:    userID,
		Rating:    input.Rating,
		Comment:   input.Comment,
		Verified:  verified,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.reviewRepo.Create(ctx, review); err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}

	s.recomputeRating(ctx, ruleID)

	if s.producer != nil {
		if pubErr := s.producer.PublishReviewCreated(ctx, review); pubErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish review.created event",
				slog.String("review_id", review.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	s.notifier.Notify(ctx, notify.Notification{
		UserID: rule.OwnerID,
		Kind:   notify.KindReviewReceived,
		Title:  fmt.Sprintf("Your rule %q received a %d-star review", rule.Title, review.Rating),
		Data:   map[string]any{"review_id": review.ID, "rule_id": ruleID},
	})

	s.logger.InfoContext(ctx, "review submitted",
		slog.String("review_id", review.ID),
		slog.String("rule_id", ruleID),
		slog.Int("rating", review.Rating),
		slog.Bool("verified", verified),
	)

	return review, nil
}

// Update edits a review. Only the author may edit; the aggregate is
// recomputed afterward.
func (s *ReviewService) Update(ctx context.Context, reviewID, userID string, input *UpdateReviewInput) (*domain.Review, error) {
	review, err := s.reviewRepo.GetByID(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("get review for update: %w", err)
	}

	if review.UserID != userID {
		return nil, apperrors.Forbidden("only the author may edit a review")
	}
	if !review.IsActive {
		return nil, apperrors.NotFound("review", reviewID)
	}

	if input.Rating != nil {
		if !domain.IsValidRating(*input.Rating) {
			return nil, apperrors.InvalidInput(fmt.Sprintf("rating must be between %d and %d", domain.MinRating, domain.MaxRating))
		}
		review.Rating = *input.Rating
	}
	if input.Comment != nil {
		if len(*input.Comment) > domain.MaxCommentLength {
			return nil, apperrors.InvalidInput(fmt.Sprintf("comment exceeds %d characters", domain.MaxCommentLength))
		}
		review.Comment = *input.Comment
	}

	if err := s.reviewRepo.Update(ctx, review); err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}

	s.recomputeRating(ctx, review.RuleID)

	s.logger.InfoContext(ctx, "review updated",
		slog.String("review_id", review.ID),
		slog.Int("rating", review.Rating),
	)

	return review, nil
}

// Delete soft-deletes a review. The author or an admin may delete; the
// aggregate is recomputed afterward.
func (s *ReviewService) Delete(ctx context.Context, reviewID, userID string, isAdmin bool) error {
	review, err := s.reviewRepo.GetByID(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("get review for delete: %w", err)
	}

	if review.UserID != userID && !isAdmin {
		return apperrors.Forbidden("only the author or an admin may delete a review")
	}

	if err := s.reviewRepo.SoftDelete(ctx, reviewID); err != nil {
		return fmt.Errorf("soft delete review: %w", err)
	}

	s.recomputeRating(ctx, review.RuleID)

	s.logger.InfoContext(ctx, "review deleted",
		slog.String("review_id", reviewID),
		slog.Bool("by_admin", isAdmin && review.UserID != userID),
	)

	return nil
}

// MarkHelpful toggles a user's helpful vote on a review. Repeating the same
// direction is a no-op.
func (s *ReviewService) MarkHelpful(ctx context.Context, reviewID, userID string, helpful bool) (int, error) {
	review, err := s.reviewRepo.GetByID(ctx, reviewID)
	if err != nil {
		return 0, fmt.Errorf("get review for helpful vote: %w", err)
	}
	if !review.IsActive {
		return 0, apperrors.NotFound("review", reviewID)
	}

	count, err := s.reviewRepo.SetHelpful(ctx, reviewID, userID, helpful)
	if err != nil {
		return 0, fmt.Errorf("set helpful vote: %w", err)
	}

	return count, nil
}

// ListByRule returns a paginated list of a rule's active reviews together
// with the current rating summary.
func (s *ReviewService) ListByRule(ctx context.Context, ruleID string, page, perPage int) ([]domain.Review, int, *domain.RatingSummary, error) {
	offset, perPage := normalizePage(page, perPage)

	reviews, total, err := s.reviewRepo.ListByRule(ctx, ruleID, offset, perPage)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list reviews by rule: %w", err)
	}

	summary, err := s.reviewRepo.GetSummary(ctx, ruleID)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("get rating summary: %w", err)
	}

	return reviews, total, summary, nil
}

// Moderate applies an admin decision to a review: approve clears the report
// flag, remove deactivates it and recomputes the rule's aggregate.
func (s *ReviewService) Moderate(ctx context.Context, reviewID string, input *ModerateReviewInput) (*domain.Review, error) {
	review, err := s.reviewRepo.GetByID(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("get review for moderation: %w", err)
	}

	switch input.Action {
	case ModerationActionApprove:
		review.Reported = false
		review.ReportReason = ""
	case ModerationActionRemove:
		review.Reported = true
		review.ReportReason = input.Reason
		review.IsActive = false
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid moderation action %q", input.Action))
	}

	if err := s.reviewRepo.Moderate(ctx, review); err != nil {
		return nil, fmt.Errorf("moderate review: %w", err)
	}

	if input.Action == ModerationActionRemove {
		s.recomputeRating(ctx, review.RuleID)
	}

	s.logger.InfoContext(ctx, "review moderated",
		slog.String("review_id", reviewID),
		slog.String("action", input.Action),
	)

	return review, nil
}

// recomputeRating refreshes the rule's aggregate. A failure leaves a stale
// aggregate that the next review mutation repairs, so it is logged rather
// than surfaced.
func (s *ReviewService) recomputeRating(ctx context.Context, ruleID string) {
	if err := s.ruleRepo.RecomputeRating(ctx, ruleID); err != nil {
		s.logger.ErrorContext(ctx, "failed to recompute rule rating",
			slog.String("rule_id", ruleID),
			slog.String("error", err.Error()),
		)
	}
}
