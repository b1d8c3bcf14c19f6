package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/internal/repository"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// EntitlementService answers access questions and tracks downloads.
type EntitlementService struct {
	ruleRepo     repository.RuleRepository
	purchaseRepo repository.PurchaseRepository
	cache        repository.AccessCache
	logger       *slog.Logger
}

// NewEntitlementService creates a new entitlement service.
func NewEntitlementService(
	ruleRepo repository.RuleRepository,
	purchaseRepo repository.PurchaseRepository,
	cache repository.AccessCache,
	logger *slog.Logger,
) *EntitlementService {
	return &EntitlementService{
		ruleRepo:     ruleRepo,
		purchaseRepo: purchaseRepo,
		cache:        cache,
		logger:       logger,
	}
}

// HasActiveAccess reports whether the user may read the rule's full content:
// they own it, it is free, or they hold an active non-expired purchase.
func (s *EntitlementService) HasActiveAccess(ctx context.Context, userID string, rule *domain.Rule) (bool, error) {
	if rule.IsOwnedBy(userID) {
		return true, nil
	}
	if !rule.Pricing.IsPaid {
		return true, nil
	}
	if userID == "" {
		return false, nil
	}

	if s.cache != nil {
		if hasAccess, found, err := s.cache.Get(ctx, userID, rule.ID); err == nil && found {
			return hasAccess, nil
		} else if err != nil {
			s.logger.WarnContext(ctx, "entitlement cache read failed",
				slog.String("user_id", userID),
				slog.String("rule_id", rule.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	hasAccess, err := s.lookupAccess(ctx, userID, rule.ID)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, rule.ID, hasAccess); err != nil {
			s.logger.WarnContext(ctx, "entitlement cache write failed",
				slog.String("user_id", userID),
				slog.String("rule_id", rule.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return hasAccess, nil
}

func (s *EntitlementService) lookupAccess(ctx context.Context, userID, ruleID string) (bool, error) {
	purchase, err := s.purchaseRepo.GetActive(ctx, userID, ruleID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get active purchase: %w", err)
	}

	return purchase.GrantsAccess(time.Now().UTC()), nil
}

// Download authorizes a rule download for the user, records it against their
// purchase when one exists, and bumps the rule's download counter.
func (s *EntitlementService) Download(ctx context.Context, userID, ruleID, ipAddress, userAgent string) (*domain.Rule, error) {
	rule, err := s.ruleRepo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("get rule for download: %w", err)
	}
	if !rule.IsActive {
		return nil, apperrors.NotFound("rule", ruleID)
	}

	hasAccess, err := s.HasActiveAccess(ctx, userID, rule)
	if err != nil {
		return nil, fmt.Errorf("check download access: %w", err)
	}
	if !hasAccess {
		return nil, apperrors.Forbidden("purchase required to download this rule")
	}

	// Paid downloads by non-owners are logged against the purchase.
	if rule.Pricing.IsPaid && !rule.IsOwnedBy(userID) {
		purchase, err := s.purchaseRepo.GetActive(ctx, userID, ruleID)
		if err != nil {
			return nil, fmt.Errorf("get purchase for download: %w", err)
		}

		record := domain.DownloadRecord{
			DownloadedAt: time.Now().UTC(),
			IPAddress:    ipAddress,
			UserAgent:    userAgent,
		}
		if err := s.purchaseRepo.RecordDownload(ctx, purchase.ID, record); err != nil {
			return nil, fmt.Errorf("record download: %w", err)
		}
	}

	if err := s.ruleRepo.IncrementDownloads(ctx, ruleID); err != nil {
		s.logger.WarnContext(ctx, "failed to bump rule download counter",
			slog.String("rule_id", ruleID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "rule downloaded",
		slog.String("rule_id", ruleID),
		slog.String("user_id", userID),
	)

	return rule, nil
}

// GetPurchase returns a single purchase. Only its buyer or an admin may
// read it; the license key is part of the record.
func (s *EntitlementService) GetPurchase(ctx context.Context, id, userID string, isAdmin bool) (*domain.Purchase, error) {
	purchase, err := s.purchaseRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}

	if purchase.BuyerID != userID && !isAdmin {
		return nil, apperrors.Forbidden("not your purchase")
	}

	return purchase, nil
}

// ListPurchases returns a paginated list of the buyer's purchases.
func (s *EntitlementService) ListPurchases(ctx context.Context, buyerID string, page, perPage int) ([]domain.Purchase, int, error) {
	offset, perPage := normalizePage(page, perPage)

	purchases, total, err := s.purchaseRepo.ListByBuyer(ctx, buyerID, offset, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list purchases by buyer: %w", err)
	}

	return purchases, total, nil
}
