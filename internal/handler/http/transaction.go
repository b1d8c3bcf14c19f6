package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/internal/service"
	"github.com/sigmahub/marketplace/pkg/httputil"
	"github.com/sigmahub/marketplace/pkg/middleware"
	"github.com/sigmahub/marketplace/pkg/validator"
)

// RoleAdmin is the role required for refund resolution and moderation.
const RoleAdmin = "admin"

// TransactionHandler handles HTTP requests for transaction endpoints.
type TransactionHandler struct {
	service *service.TransactionService
	logger  *slog.Logger
}

// NewTransactionHandler creates a new transaction HTTP handler.
func NewTransactionHandler(svc *service.TransactionService, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// PurchaseRequest is the JSON request body for purchasing a rule.
type PurchaseRequest struct {
	RuleID           string `json:"rule_id" validate:"required,uuid"`
	PaymentMethod    string `json:"payment_method" validate:"required,oneof=credit_card debit_card bank_transfer wallet"`
	PaymentReference string `json:"payment_reference,omitempty" validate:"omitempty,max=255"`
}

// RefundRequestRequest is the JSON request body for opening a refund dispute.
type RefundRequestRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=1000"`
}

// RefundResolveRequest is the JSON request body for resolving a dispute.
type RefundResolveRequest struct {
	Approve bool `json:"approve"`
}

// --- Handlers ---

// Purchase handles POST /api/v1/transactions
// @Summary Purchase a rule
// @Description Records a completed purchase and mints the buyer's entitlement.
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body PurchaseRequest true "Purchase data"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/transactions [post]
func (h *TransactionHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.Purchase(r.Context(), middleware.UserIDFromContext(r.Context()), &service.PurchaseInput{
		RuleID:           req.RuleID,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// GetTransaction handles GET /api/v1/transactions/{id}
// @Summary Get transaction by ID
// @Description Returns a single transaction. Restricted to its buyer, seller, or an admin.
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/transactions/{id} [get]
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	ctx := r.Context()
	txn, err := h.service.GetTransaction(ctx, id.String(),
		middleware.UserIDFromContext(ctx),
		middleware.RoleFromContext(ctx) == RoleAdmin,
	)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: txn})
}

// ListTransactions handles GET /api/v1/transactions
// @Summary List own transactions
// @Description Returns the caller's transactions, as buyer by default or as seller with ?side=seller.
// @Tags transactions
// @Produce json
// @Param side query string false "buyer or seller" default(buyer)
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/transactions [get]
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserIDFromContext(ctx)
	page, perPage := httputil.ParsePagination(r)

	var (
		txns  []domain.Transaction
		total int
		err   error
	)

	if r.URL.Query().Get("side") == "seller" {
		txns, total, err = h.service.ListBySeller(ctx, userID, page, perPage)
	} else {
		txns, total, err = h.service.ListByBuyer(ctx, userID, page, perPage)
	}
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(txns, total, page, perPage))
}

// RequestRefund handles POST /api/v1/transactions/{id}/refund-request
// @Summary Request a refund
// @Description Opens a dispute on a completed transaction. Buyer-only, within 30 days of purchase.
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction UUID"
// @Param request body RefundRequestRequest true "Refund reason"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/refund-request [post]
func (h *TransactionHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req RefundRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	txn, err := h.service.RequestRefund(r.Context(), id.String(),
		middleware.UserIDFromContext(r.Context()),
		&service.RequestRefundInput{Reason: req.Reason},
	)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: txn})
}

// ResolveRefund handles POST /api/v1/transactions/{id}/refund-resolve
// @Summary Resolve a refund dispute
// @Description Admin-only. Approving refunds the buyer and revokes their entitlement.
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction UUID"
// @Param request body RefundResolveRequest true "Resolution decision"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/transactions/{id}/refund-resolve [post]
func (h *TransactionHandler) ResolveRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req RefundResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	txn, err := h.service.ResolveRefund(r.Context(), id.String(),
		middleware.UserIDFromContext(r.Context()),
		&service.ResolveRefundInput{Approve: req.Approve},
	)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: txn})
}
