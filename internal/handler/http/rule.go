package http

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sigmahub/marketplace/internal/service"
	"github.com/sigmahub/marketplace/pkg/httputil"
	"github.com/sigmahub/marketplace/pkg/middleware"
)

// RuleHandler handles HTTP requests for rule viewing and download endpoints.
type RuleHandler struct {
	content      *service.ContentService
	entitlements *service.EntitlementService
	logger       *slog.Logger
}

// NewRuleHandler creates a new rule HTTP handler.
func NewRuleHandler(content *service.ContentService, entitlements *service.EntitlementService, logger *slog.Logger) *RuleHandler {
	return &RuleHandler{
		content:      content,
		entitlements: entitlements,
		logger:       logger,
	}
}

// GetRule handles GET /api/v1/rules/{id}
// @Summary Get a rule
// @Description Returns the rule with its query text gated by the caller's entitlement.
// @Tags rules
// @Produce json
// @Param id path string true "Rule UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/rules/{id} [get]
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	view, err := h.content.GetRule(r.Context(), id.String(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: view})
}

// DownloadRule handles POST /api/v1/rules/{id}/download
// @Summary Download a rule
// @Description Returns the full rule for entitled callers and records the download.
// @Tags rules
// @Produce json
// @Param id path string true "Rule UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/rules/{id}/download [post]
func (h *RuleHandler) DownloadRule(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	rule, err := h.entitlements.Download(r.Context(), middleware.UserIDFromContext(r.Context()),
		id.String(), clientIP(r), r.UserAgent())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: rule})
}

// clientIP extracts the caller's address, preferring X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
