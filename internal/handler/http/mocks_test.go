package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/internal/service"
	"github.com/sigmahub/marketplace/pkg/httputil"
	"github.com/sigmahub/marketplace/pkg/middleware"
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

// --- Test Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testDeps bundles the mocks behind a router built with the production
// route layout.
type testDeps struct {
	ruleRepo     *mockRuleRepo
	txnRepo      *mockTransactionRepo
	purchaseRepo *mockPurchaseRepo
	reviewRepo   *mockReviewRepo
}

func newTestDeps() *testDeps {
	return &testDeps{
		ruleRepo:     new(mockRuleRepo),
		txnRepo:      new(mockTransactionRepo),
		purchaseRepo: new(mockPurchaseRepo),
		reviewRepo:   new(mockReviewRepo),
	}
}

// identityFrom injects the given identity into every request, standing in
// for the auth middleware.
func identityFrom(userID, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID != "" {
				r = r.WithContext(middleware.WithIdentity(r.Context(), userID, role))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// setupRouter builds a chi router mirroring the production layout, with the
// auth middleware replaced by a fixed identity.
func setupRouter(d *testDeps, userID, role string) *chi.Mux {
	logger := testLogger()
	entitlements := service.NewEntitlementService(d.ruleRepo, d.purchaseRepo, nil, logger)
	transactions := service.NewTransactionService(d.ruleRepo, d.txnRepo, d.purchaseRepo, nil, nil, nil, logger, 0)
	content := service.NewContentService(d.ruleRepo, entitlements)
	reviews := service.NewReviewService(d.reviewRepo, d.ruleRepo, entitlements, nil, nil, logger)

	transactionHandler := NewTransactionHandler(transactions, logger)
	ruleHandler := NewRuleHandler(content, entitlements, logger)
	purchaseHandler := NewPurchaseHandler(entitlements, logger)
	reviewHandler := NewReviewHandler(reviews, logger)

	identity := identityFrom(userID, role)
	adminOnly := middleware.RequireRole(RoleAdmin)

	r := chi.NewRouter()
	r.Route("/api/v1/transactions", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(identity)

		r.Post("/", transactionHandler.Purchase)
		r.Get("/", transactionHandler.ListTransactions)
		r.Get("/{id}", transactionHandler.GetTransaction)
		r.Post("/{id}/refund-request", transactionHandler.RequestRefund)
		r.With(adminOnly).Post("/{id}/refund-resolve", transactionHandler.ResolveRefund)
	})
	r.Route("/api/v1/purchases", func(r chi.Router) {
		r.Use(identity)

		r.Get("/", purchaseHandler.ListPurchases)
		r.Get("/{id}", purchaseHandler.GetPurchase)
	})
	r.Route("/api/v1/rules", func(r chi.Router) {
		r.With(identity).Get("/{id}", ruleHandler.GetRule)
		r.With(identity).Get("/{id}/reviews", reviewHandler.ListReviews)
		r.With(identity).Post("/{id}/download", ruleHandler.DownloadRule)
		r.With(ContentTypeJSON, identity).Post("/{id}/reviews", reviewHandler.SubmitReview)
	})
	r.Route("/api/v1/reviews", func(r chi.Router) {
		r.Use(identity)

		r.Patch("/{id}", reviewHandler.UpdateReview)
		r.Delete("/{id}", reviewHandler.DeleteReview)
		r.Post("/{id}/helpful", reviewHandler.MarkHelpful)
		r.With(adminOnly).Post("/{id}/moderate", reviewHandler.ModerateReview)
	})
	return r
}

// decodeResp reads the response body into an httputil.Response.
func decodeResp(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp
}

// --- Fixtures ---

func samplePaidRule(ownerID string) *domain.Rule {
	now := time.Now().UTC()
	return &domain.Rule{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Title:       "Suspicious PowerShell Encoded Command",
		QueryText:   "process where process.name == \"powershell.exe\" and process.args : \"-enc*\"",
		QueryFormat: "eql",
		Severity:    "high",
		Pricing:     domain.Pricing{IsPaid: true, Amount: 2500, Currency: "USD"},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func sampleTransaction(buyerID, sellerID, ruleID string) *domain.Transaction {
	now := time.Now().UTC()
	return &domain.Transaction{
		ID:             uuid.New().String(),
		BuyerID:        buyerID,
		SellerID:       sellerID,
		RuleID:         ruleID,
		Amount:         2500,
		Currency:       "USD",
		PaymentMethod:  "credit_card",
		Status:         domain.TransactionStatusCompleted,
		PlatformFee:    250,
		SellerEarnings: 2250,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func samplePurchase(buyerID, ruleID string) *domain.Purchase {
	now := time.Now().UTC()
	return &domain.Purchase{
		ID:              uuid.New().String(),
		BuyerID:         buyerID,
		RuleID:          ruleID,
		TransactionID:   uuid.New().String(),
		LicenseKey:      "MKT-0123456789ABCDEF0123456789ABCDEF",
		AccessGrantedAt: now,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func sampleReview(userID, ruleID string) *domain.Review {
	now := time.Now().UTC()
	return &domain.Review{
		ID:        uuid.New().String(),
		RuleID:    ruleID,
		UserID:    userID,
		Rating:    4,
		Comment:   "Catches encoded loaders we kept missing.",
		Verified:  true,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
