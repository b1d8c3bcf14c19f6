package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sigmahub/marketplace/internal/service"
	"github.com/sigmahub/marketplace/pkg/httputil"
	"github.com/sigmahub/marketplace/pkg/middleware"
)

// PurchaseHandler handles HTTP requests for the caller's entitlements.
type PurchaseHandler struct {
	entitlements *service.EntitlementService
	logger       *slog.Logger
}

// NewPurchaseHandler creates a new purchase HTTP handler.
func NewPurchaseHandler(entitlements *service.EntitlementService, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		entitlements: entitlements,
		logger:       logger,
	}
}

// GetPurchase handles GET /api/v1/purchases/{id}
// @Summary Get purchase by ID
// @Description Returns a purchase record with its license key. Buyer or admin only.
// @Tags purchases
// @Produce json
// @Param id path string true "Purchase UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/purchases/{id} [get]
func (h *PurchaseHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	ctx := r.Context()
	purchase, err := h.entitlements.GetPurchase(ctx, id.String(),
		middleware.UserIDFromContext(ctx),
		middleware.RoleFromContext(ctx) == RoleAdmin,
	)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: purchase})
}

// ListPurchases handles GET /api/v1/purchases
// @Summary List own purchases
// @Description Returns the caller's purchase records, newest first.
// @Tags purchases
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/purchases [get]
func (h *PurchaseHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.ParsePagination(r)

	purchases, total, err := h.entitlements.ListPurchases(r.Context(),
		middleware.UserIDFromContext(r.Context()), page, perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(purchases, total, page, perPage))
}
