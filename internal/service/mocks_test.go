package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/internal/notify"
)

// --- Mock Repositories ---

type mockRuleRepo struct {
	mock.Mock
}

func (m *mockRuleRepo) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Rule), args.Error(1)
}

func (m *mockRuleRepo) IncrementDownloads(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRuleRepo) RecomputeRating(ctx context.Context, ruleID string) error {
	args := m.Called(ctx, ruleID)
	return args.Error(0)
}

type mockTransactionRepo struct {
	mock.Mock
}

func (m *mockTransactionRepo) CreateCompleted(ctx context.Context, txn *domain.Transaction, purchase *domain.Purchase) error {
	args := m.Called(ctx, txn, purchase)
	return args.Error(0)
}

func (m *mockTransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *mockTransactionRepo) UpdateStatus(ctx context.Context, txn *domain.Transaction, from, to string) error {
	args := m.Called(ctx, txn, from, to)
	if args.Error(0) == nil {
		txn.Status = to
	}
	return args.Error(0)
}

func (m *mockTransactionRepo) MarkRefunded(ctx context.Context, txn *domain.Transaction) error {
	args := m.Called(ctx, txn)
	if args.Error(0) == nil {
		txn.Status = domain.TransactionStatusRefunded
	}
	return args.Error(0)
}

func (m *mockTransactionRepo) ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Transaction, int, error) {
	args := m.Called(ctx, buyerID, offset, limit)
	return args.Get(0).([]domain.Transaction), args.Int(1), args.Error(2)
}

func (m *mockTransactionRepo) ListBySeller(ctx context.Context, sellerID string, offset, limit int) ([]domain.Transaction, int, error) {
	args := m.Called(ctx, sellerID, offset, limit)
	return args.Get(0).([]domain.Transaction), args.Int(1), args.Error(2)
}

type mockPurchaseRepo struct {
	mock.Mock
}

func (m *mockPurchaseRepo) GetByID(ctx context.Context, id string) (*domain.Purchase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Purchase), args.Error(1)
}

func (m *mockPurchaseRepo) GetActive(ctx context.Context, buyerID, ruleID string) (*domain.Purchase, error) {
	args := m.Called(ctx, buyerID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Purchase), args.Error(1)
}

func (m *mockPurchaseRepo) ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Purchase, int, error) {
	args := m.Called(ctx, buyerID, offset, limit)
	return args.Get(0).([]domain.Purchase), args.Int(1), args.Error(2)
}

func (m *mockPurchaseRepo) RecordDownload(ctx context.Context, purchaseID string, record domain.DownloadRecord) error {
	args := m.Called(ctx, purchaseID, record)
	return args.Error(0)
}

type mockReviewRepo struct {
	mock.Mock
}

func (m *mockReviewRepo) Create(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *mockReviewRepo) GetByID(ctx context.Context, id string) (*domain.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewRepo) Update(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *mockReviewRepo) SoftDelete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockReviewRepo) ListByRule(ctx context.Context, ruleID string, offset, limit int) ([]domain.Review, int, error) {
	args := m.Called(ctx, ruleID, offset, limit)
	return args.Get(0).([]domain.Review), args.Int(1), args.Error(2)
}

func (m *mockReviewRepo) GetSummary(ctx context.Context, ruleID string) (*domain.RatingSummary, error) {
	args := m.Called(ctx, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RatingSummary), args.Error(1)
}

func (m *mockReviewRepo) SetHelpful(ctx context.Context, reviewID, userID string, helpful bool) (int, error) {
	args := m.Called(ctx, reviewID, userID, helpful)
	return args.Int(0), args.Error(1)
}

func (m *mockReviewRepo) Moderate(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

// --- Mock Cache ---

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, userID, ruleID string) (bool, bool, error) {
	args := m.Called(ctx, userID, ruleID)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *mockCache) Set(ctx context.Context, userID, ruleID string, hasAccess bool) error {
	args := m.Called(ctx, userID, ruleID, hasAccess)
	return args.Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, userID, ruleID string) error {
	args := m.Called(ctx, userID, ruleID)
	return args.Error(0)
}

// --- Recording Notifier ---

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recordingNotifier) sent() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification{}, r.notifications...)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRule(t *testing.T) *domain.Rule {
	t.Helper()
	now := time.Now().UTC()
	return &domain.Rule{
		ID:          uuid.New().String(),
		OwnerID:     uuid.New().String(),
		Title:       "Suspicious PowerShell Encoded Command",
		QueryText:   "process.command_line : (*-enc* or *-EncodedCommand*) and process.name : powershell.exe",
		QueryFormat: "sigma",
		Severity:    "high",
		Pricing: domain.Pricing{
			IsPaid:   true,
			Amount:   2500,
			Currency: "USD",
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestTransaction(t *testing.T) *domain.Transaction {
	t.Helper()
	now := time.Now().UTC()
	return &domain.Transaction{
		ID:             uuid.New().String(),
		BuyerID:        uuid.New().String(),
		SellerID:       uuid.New().String(),
		RuleID:         uuid.New().String(),
		Amount:         2500,
		Currency:       "USD",
		PaymentMethod:  domain.PaymentMethodCreditCard,
		Status:         domain.TransactionStatusCompleted,
		PlatformFee:    250,
		SellerEarnings: 2250,
		Metadata:       make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func newTestPurchase(t *testing.T, buyerID, ruleID string) *domain.Purchase {
	t.Helper()
	now := time.Now().UTC()
	return &domain.Purchase{
		ID:              uuid.New().String(),
		BuyerID:         buyerID,
		RuleID:          ruleID,
		TransactionID:   uuid.New().String(),
		LicenseKey:      "MKT-TESTKEY",
		AccessGrantedAt: now,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func newTestReview(t *testing.T) *domain.Review {
	t.Helper()
	now := time.Now().UTC()
	return &domain.Review{
		ID:        uuid.New().String(),
		RuleID:    uuid.New().String(),
		UserID:    uuid.New().String(),
		Rating:    4,
		Comment:   "Low false positive rate, works well.",
		Verified:  true,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
