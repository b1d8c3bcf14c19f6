package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sigmahub/marketplace/internal/service"
	"github.com/sigmahub/marketplace/pkg/health"
	"github.com/sigmahub/marketplace/pkg/middleware"
)

// RouterDeps bundles the collaborators the marketplace router needs.
type RouterDeps struct {
	Transactions  *service.TransactionService
	Entitlements  *service.EntitlementService
	Content       *service.ContentService
	Reviews       *service.ReviewService
	HealthHandler *health.Handler
	TokenValidate middleware.TokenValidator
	Logger        *slog.Logger
}

// NewRouter creates a chi router with all marketplace routes registered.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.PrometheusMetrics("marketplace"))

	// Health check endpoints
	r.Get("/health/live", deps.HealthHandler.LivenessHandler())
	r.Get("/health/ready", deps.HealthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	transactionHandler := NewTransactionHandler(deps.Transactions, deps.Logger)
	ruleHandler := NewRuleHandler(deps.Content, deps.Entitlements, deps.Logger)
	purchaseHandler := NewPurchaseHandler(deps.Entitlements, deps.Logger)
	reviewHandler := NewReviewHandler(deps.Reviews, deps.Logger)

	auth := middleware.Auth(deps.TokenValidate)
	optionalAuth := middleware.OptionalAuth(deps.TokenValidate)
	adminOnly := middleware.RequireRole(RoleAdmin)

	r.Route("/api/v1/transactions", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(auth)

		r.Post("/", transactionHandler.Purchase)
		r.Get("/", transactionHandler.ListTransactions)
		r.Get("/{id}", transactionHandler.GetTransaction)
		r.Post("/{id}/refund-request", transactionHandler.RequestRefund)
		r.With(adminOnly).Post("/{id}/refund-resolve", transactionHandler.ResolveRefund)
	})

	r.Route("/api/v1/purchases", func(r chi.Router) {
		r.Use(auth)

		r.Get("/", purchaseHandler.ListPurchases)
		r.Get("/{id}", purchaseHandler.GetPurchase)
	})

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.With(optionalAuth).Get("/{id}", ruleHandler.GetRule)
		r.With(optionalAuth).Get("/{id}/reviews", reviewHandler.ListReviews)
		r.With(auth).Post("/{id}/download", ruleHandler.DownloadRule)
		r.With(ContentTypeJSON, auth).Post("/{id}/reviews", reviewHandler.SubmitReview)
	})

	r.Route("/api/v1/reviews", func(r chi.Router) {
		r.Use(auth)

		r.Patch("/{id}", reviewHandler.UpdateReview)
		r.Delete("/{id}", reviewHandler.DeleteReview)
		r.Post("/{id}/helpful", reviewHandler.MarkHelpful)
		r.With(adminOnly).Post("/{id}/moderate", reviewHandler.ModerateReview)
	})

	return r
}
