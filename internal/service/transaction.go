package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/internal/event"
	"github.com/sigmahub/marketplace/internal/notify"
	"github.com/sigmahub/marketplace/internal/repository"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// TransactionService implements the business logic for purchases and the
// refund workflow.
type TransactionService struct {
	ruleRepo     repository.RuleRepository
	txnRepo      repository.TransactionRepository
	purchaseRepo repository.PurchaseRepository
	cache        repository.AccessCache
	producer     *event.Producer
	notifier     notify.Notifier
	logger       *slog.Logger
	feeRate      float64
}

// NewTransactionService creates a new transaction service.
func NewTransactionService(
	ruleRepo repository.RuleRepository,
	txnRepo repository.TransactionRepository,
	purchaseRepo repository.PurchaseRepository,
	cache repository.AccessCache,
	producer *event.Producer,
	notifier notify.Notifier,
	logger *slog.Logger,
	feeRate float64,
) *TransactionService {
	if feeRate <= 0 {
		feeRate = domain.DefaultFeeRate
	}
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &TransactionService{
		ruleRepo:     ruleRepo,
		txnRepo:      txnRepo,
		purchaseRepo: purchaseRepo,
		cache:        cache,
		producer:     producer,
		notifier:     notifier,
		logger:       logger,
		feeRate:      feeRate,
	}
}

// PurchaseInput holds the parameters for purchasing a rule.
type PurchaseInput struct {
	RuleID           string `json:"rule_id" validate:"required,uuid"`
	PaymentMethod    string `json:"payment_method" validate:"required,oneof=credit_card debit_card bank_transfer wallet"`
	PaymentReference string `json:"payment_reference,omitempty" validate:"omitempty,max=255"`
}

// RequestRefundInput holds the parameters for opening a refund dispute.
type RequestRefundInput struct {
	Reason string `json:"reason" validate:"required,min=3,max=1000"`
}

// ResolveRefundInput holds an admin's refund decision.
type ResolveRefundInput struct {
	Approve bool `json:"approve"`
}

// PurchaseResult pairs the ledger entry with the minted entitlement.
type PurchaseResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	Purchase    *domain.Purchase    `json:"purchase"`
}

// Purchase buys a rule for the given buyer. The ledger entry, the
// entitlement, and the rule's sales counters commit atomically; the store's
// uniqueness constraint settles concurrent duplicate purchases.
func (s *TransactionService) Purchase(ctx context.Context, buyerID string, input *PurchaseInput) (*PurchaseResult, error) {
	if buyerID == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}
	if input.RuleID == "" {
		return nil, apperrors.InvalidInput("rule_id is required")
	}
	if !domain.IsValidPaymentMethod(input.PaymentMethod) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid payment method %q", input.PaymentMethod))
	}

	rule, err := s.ruleRepo.GetByID(ctx, input.RuleID)
	if err != nil {
		return nil, fmt.Errorf("get rule for purchase: %w", err)
	}

	if rule.IsOwnedBy(buyerID) {
		return nil, apperrors.Forbidden("cannot purchase your own rule")
	}
	if !rule.IsPurchasable() {
		return nil, apperrors.InvalidInput("rule is not available for purchase")
	}

	// Fast-path check; the constraint on the purchases table is authoritative.
	if existing, err := s.purchaseRepo.GetActive(ctx, buyerID, rule.ID); err == nil && existing != nil {
		return nil, apperrors.Conflict("ALREADY_OWNED", "buyer already owns this rule")
	}

	platformFee, sellerEarnings, err := domain.SplitFee(rule.Pricing.Amount, s.feeRate)
	if err != nil {
		return nil, fmt.Errorf("split fee: %w", err)
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:               uuid.New().String(),
		BuyerID:          buyerID,
		SellerID:         rule.OwnerID,
		RuleID:           rule.ID,
		Amount:           rule.Pricing.Amount,
		Currency:         strings.ToUpper(rule.Pricing.Currency),
		PaymentMethod:    input.PaymentMethod,
		PaymentReference: input.PaymentReference,
		Status:           domain.TransactionStatusCompleted,
		PlatformFee:      platformFee,
		SellerEarnings:   sellerEarnings,
		Metadata:         make(map[string]any),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	licenseKey, err := generateLicenseKey()
	if err != nil {
		return nil, fmt.Errorf("generate license key: %w", err)
	}

	purchase := &domain.Purchase{
		ID:              uuid.New().String(),
		BuyerID:         buyerID,
		RuleID:          rule.ID,
		TransactionID:   txn.ID,
		LicenseKey:      licenseKey,
		AccessGrantedAt: now,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.txnRepo.CreateCompleted(ctx, txn, purchase); err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	s.invalidateAccess(ctx, buyerID, rule.ID)

	if s.producer != nil {
		if pubErr := s.producer.PublishRulePurchased(ctx, txn, purchase); pubErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish rule.purchased event",
				slog.String("transaction_id", txn.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	s.notifier.Notify(ctx, notify.Notification{
		UserID: buyerID,
		Kind:   notify.KindPurchaseConfirmed,
		Title:  fmt.Sprintf("You purchased %q", rule.Title),
		Data:   map[string]any{"transaction_id": txn.ID, "rule_id": rule.ID},
	})
	s.notifier.Notify(ctx, notify.Notification{
		UserID: rule.OwnerID,
		Kind:   notify.KindSaleMade,
		Title:  fmt.Sprintf("Your rule %q was purchased", rule.Title),
		Data:   map[string]any{"transaction_id": txn.ID, "earnings": sellerEarnings},
	})

	s.logger.InfoContext(ctx, "rule purchased",
		slog.String("transaction_id", txn.ID),
		slog.String("rule_id", rule.ID),
		slog.String("buyer_id", buyerID),
		slog.Int64("amount", txn.Amount),
		slog.Int64("platform_fee", platformFee),
	)

	return &PurchaseResult{Transaction: txn, Purchase: purchase}, nil
}

// GetTransaction retrieves a transaction. Only the buyer, the seller, or an
// admin may see it.
func (s *TransactionService) GetTransaction(ctx context.Context, id, userID string, isAdmin bool) (*domain.Transaction, error) {
	txn, err := s.txnRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}

	if !isAdmin && txn.BuyerID != userID && txn.SellerID != userID {
		return nil, apperrors.Forbidden("transaction belongs to another user")
	}

	return txn, nil
}

// RequestRefund opens a dispute on a completed transaction. Only the buyer
// may dispute, and only within the refund window.
func (s *TransactionService) RequestRefund(ctx context.Context, txnID, buyerID string, input *RequestRefundInput) (*domain.Transaction, error) {
	if len(strings.TrimSpace(input.Reason)) < 3 {
		return nil, apperrors.InvalidInput("refund reason must be at least 3 characters")
	}

	txn, err := s.txnRepo.GetByID(ctx, txnID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for refund request: %w", err)
	}

	if txn.BuyerID != buyerID {
		return nil, apperrors.Forbidden("only the buyer may request a refund")
	}
	if txn.Status != domain.TransactionStatusCompleted {
		return nil, apperrors.Conflict("INVALID_STATE", fmt.Sprintf("refund cannot be requested in status %q", txn.Status))
	}

	now := time.Now().UTC()
	if !txn.WithinRefundWindow(now) {
		return nil, apperrors.WindowExpired("refund window has closed for this transaction")
	}

	if txn.Metadata == nil {
		txn.Metadata = make(map[string]any)
	}
	txn.Metadata[domain.MetadataKeyRefundReason] = input.Reason
	txn.Metadata[domain.MetadataKeyRefundRequestedBy] = buyerID
	txn.Metadata[domain.MetadataKeyRefundRequestedAt] = now.Format(time.RFC3339)

	if err := s.txnRepo.UpdateStatus(ctx, txn, domain.TransactionStatusCompleted, domain.TransactionStatusDisputed); err != nil {
		return nil, fmt.Errorf("dispute transaction: %w", err)
	}

	if s.producer != nil {
		if pubErr := s.producer.PublishRefundRequested(ctx, txn, input.Reason); pubErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish refund_requested event",
				slog.String("transaction_id", txn.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	s.notifier.Notify(ctx, notify.Notification{
		UserID: txn.SellerID,
		Kind:   notify.KindRefundRequested,
		Title:  "A buyer disputed one of your sales",
		Data:   map[string]any{"transaction_id": txn.ID, "reason": input.Reason},
	})

	s.logger.InfoContext(ctx, "refund requested",
		slog.String("transaction_id", txn.ID),
		slog.String("buyer_id", buyerID),
	)

	return txn, nil
}

// ResolveRefund settles a disputed transaction. Approval refunds the buyer,
// reverses the seller's earnings, and revokes the entitlement; denial returns
// the transaction to completed.
func (s *TransactionService) ResolveRefund(ctx context.Context, txnID, adminID string, input *ResolveRefundInput) (*domain.Transaction, error) {
	txn, err := s.txnRepo.GetByID(ctx, txnID)
	if err != nil {
		return nil, fmt.Errorf("get transaction for refund resolution: %w", err)
	}

	if txn.Status != domain.TransactionStatusDisputed {
		return nil, apperrors.Conflict("INVALID_STATE", fmt.Sprintf("refund cannot be resolved in status %q", txn.Status))
	}

	if txn.Metadata == nil {
		txn.Metadata = make(map[string]any)
	}
	txn.Metadata[domain.MetadataKeyRefundResolvedAt] = time.Now().UTC().Format(time.RFC3339)
	txn.Metadata[domain.MetadataKeyRefundApproved] = input.Approve

	if input.Approve {
		if err := s.txnRepo.MarkRefunded(ctx, txn); err != nil {
			return nil, fmt.Errorf("mark transaction refunded: %w", err)
		}
		s.invalidateAccess(ctx, txn.BuyerID, txn.RuleID)
	} else {
		if err := s.txnRepo.UpdateStatus(ctx, txn, domain.TransactionStatusDisputed, domain.TransactionStatusCompleted); err != nil {
			return nil, fmt.Errorf("restore transaction to completed: %w", err)
		}
	}

	if s.producer != nil {
		if pubErr := s.producer.PublishRefunded(ctx, txn, input.Approve); pubErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish refunded event",
				slog.String("transaction_id", txn.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	s.notifier.Notify(ctx, notify.Notification{
		UserID: txn.BuyerID,
		Kind:   notify.KindRefundResolved,
		Title:  "Your refund request has been resolved",
		Data:   map[string]any{"transaction_id": txn.ID, "approved": input.Approve},
	})
	if input.Approve {
		s.notifier.Notify(ctx, notify.Notification{
			UserID: txn.SellerID,
			Kind:   notify.KindRefundResolved,
			Title:  "A sale of your rule was refunded",
			Data: map[string]any{
				"transaction_id":  txn.ID,
				"rule_id":         txn.RuleID,
				"seller_earnings": txn.SellerEarnings,
			},
		})
	}

	s.logger.InfoContext(ctx, "refund resolved",
		slog.String("transaction_id", txn.ID),
		slog.String("admin_id", adminID),
		slog.Bool("approved", input.Approve),
	)

	return txn, nil
}

// ListByBuyer returns a paginated list of the buyer's transactions.
func (s *TransactionService) ListByBuyer(ctx context.Context, buyerID string, page, perPage int) ([]domain.Transaction, int, error) {
	offset, perPage := normalizePage(page, perPage)

	txns, total, err := s.txnRepo.ListByBuyer(ctx, buyerID, offset, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions by buyer: %w", err)
	}

	return txns, total, nil
}

// ListBySeller returns a paginated list of the seller's transactions.
func (s *TransactionService) ListBySeller(ctx context.Context, sellerID string, page, perPage int) ([]domain.Transaction, int, error) {
	offset, perPage := normalizePage(page, perPage)

	txns, total, err := s.txnRepo.ListBySeller(ctx, sellerID, offset, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions by seller: %w", err)
	}

	return txns, total, nil
}

func (s *TransactionService) invalidateAccess(ctx context.Context, buyerID, ruleID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, buyerID, ruleID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate entitlement cache",
			slog.String("buyer_id", buyerID),
			slog.String("rule_id", ruleID),
			slog.String("error", err.Error()),
		)
	}
}

// normalizePage converts a 1-based page and size into an offset, clamping the
// size to [1, 100].
func normalizePage(page, perPage int) (offset, size int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return (page - 1) * perPage, perPage
}

// generateLicenseKey mints an opaque license key from random bytes.
func generateLicenseKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "MKT-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}
