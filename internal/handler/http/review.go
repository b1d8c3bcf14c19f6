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

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// SubmitReviewRequest is the JSON request body for creating a review.
type SubmitReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

// UpdateReviewRequest is the JSON request body for editing a review.
type UpdateReviewRequest struct {
	Rating  *int    `json:"rating,omitempty" validate:"omitempty,min=1,max=5"`
	Comment *string `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

// MarkHelpfulRequest is the JSON request body for voting on a review.
type MarkHelpfulRequest struct {
	Helpful bool `json:"helpful"`
}

// ModerateReviewRequest is the JSON request body for moderating a review.
type ModerateReviewRequest struct {
	Action string `json:"action" validate:"required,oneof=approve remove"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

// --- Handlers ---

// SubmitReview handles POST /api/v1/rules/{id}/reviews
// @Summary Submit a review
// @Description Creates a review on a rule. Paid rules require an active purchase.
// @Tags reviews
// @Accept json
// @Produce json
// @Param id path string true "Rule UUID"
// @Param request body SubmitReviewRequest true "Review data"
// @Success 201 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/rules/{id}/reviews [post]
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req SubmitReviewRequest
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

	review, err := h.service.Submit(r.Context(), middleware.UserIDFromContext(r.Context()), ruleID.String(),
		&service.SubmitReviewInput{Rating: req.Rating, Comment: req.Comment})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: review})
}

// ListReviews handles GET /api/v1/rules/{id}/reviews
// @Summary List reviews for a rule
// @Description Returns active reviews newest first, plus the rule's rating summary.
// @Tags reviews
// @Produce json
// @Param id path string true "Rule UUID"
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/rules/{id}/reviews [get]
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	page, perPage := httputil.ParsePagination(r)

	reviews, total, summary, err := h.service.ListByRule(r.Context(), ruleID.String(), page, perPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, reviewListResponse{
		PaginatedResponse: httputil.NewPaginatedResponse(reviews, total, page, perPage),
		Summary:           summary,
	})
}

// reviewListResponse extends the paginated envelope with the rule's rating summary.
type reviewListResponse struct {
	httputil.PaginatedResponse[domain.Review]
	Summary *domain.RatingSummary `json:"summary"`
}

// UpdateReview handles PATCH /api/v1/reviews/{id}
// @Summary Update own review
// @Description Edits the rating or comment of the caller's review.
// @Tags reviews
// @Accept json
// @Produce json
// @Param id path string true "Review UUID"
// @Param request body UpdateReviewRequest true "Fields to update"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/reviews/{id} [patch]
func (h *ReviewHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateReviewRequest
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

	review, err := h.service.Update(r.Context(), id.String(), middleware.UserIDFromContext(r.Context()),
		&service.UpdateReviewInput{Rating: req.Rating, Comment: req.Comment})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}

// DeleteReview handles DELETE /api/v1/reviews/{id}
// @Summary Delete a review
// @Description Soft-deletes the review. Allowed for its author or an admin.
// @Tags reviews
// @Param id path string true "Review UUID"
// @Success 204 "No Content"
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/reviews/{id} [delete]
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	ctx := r.Context()
	err := h.service.Delete(ctx, id.String(),
		middleware.UserIDFromContext(ctx),
		middleware.RoleFromContext(ctx) == RoleAdmin,
	)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkHelpful handles POST /api/v1/reviews/{id}/helpful
// @Summary Vote a review helpful
// @Description Casts or withdraws the caller's helpful vote. Idempotent per user.
// @Tags reviews
// @Accept json
// @Produce json
// @Param id path string true "Review UUID"
// @Param request body MarkHelpfulRequest true "Vote"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/reviews/{id}/helpful [post]
func (h *ReviewHandler) MarkHelpful(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	req := MarkHelpfulRequest{Helpful: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
			})
			return
		}
	}

	count, err := h.service.MarkHelpful(r.Context(), id.String(),
		middleware.UserIDFromContext(r.Context()), req.Helpful)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{"helpful_count": count}})
}

// ModerateReview handles POST /api/v1/reviews/{id}/moderate
// @Summary Moderate a review
// @Description Admin-only. Approving clears report flags; removing deactivates the review.
// @Tags reviews
// @Accept json
// @Produce json
// @Param id path string true "Review UUID"
// @Param request body ModerateReviewRequest true "Moderation action"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/reviews/{id}/moderate [post]
func (h *ReviewHandler) ModerateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req ModerateReviewRequest
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

	review, err := h.service.Moderate(r.Context(), id.String(),
		&service.ModerateReviewInput{Action: req.Action, Reason: req.Reason})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}
