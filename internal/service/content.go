package service

import (
	"context"
	"fmt"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/internal/repository"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// Masking constants for the content gate.
const (
	maskPrefixLength = 120
	maskMarker       = "\n\n--- PURCHASE REQUIRED TO VIEW FULL RULE ---"
	maskPlaceholder  = "Log in and purchase this rule to view its content."
)

// RuleView is what a viewer is allowed to see of a rule. QueryText is the
// full content, a truncated preview, or a placeholder depending on the
// viewer's entitlement.
type RuleView struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	QueryText   string            `json:"query_text"`
	QueryFormat string            `json:"query_format,omitempty"`
	Severity    string            `json:"severity,omitempty"`
	Pricing     domain.Pricing    `json:"pricing"`
	Statistics  domain.Statistics `json:"statistics"`
	FullAccess  bool              `json:"full_access"`
}

// ContentService applies the visibility policy to priced rule content.
type ContentService struct {
	ruleRepo     repository.RuleRepository
	entitlements *EntitlementService
}

// NewContentService creates a new content service.
func NewContentService(ruleRepo repository.RuleRepository, entitlements *EntitlementService) *ContentService {
	return &ContentService{
		ruleRepo:     ruleRepo,
		entitlements: entitlements,
	}
}

// GetRule loads a rule and renders it for the viewer. An empty viewerID means
// an anonymous request.
func (s *ContentService) GetRule(ctx context.Context, ruleID, viewerID string) (*RuleView, error) {
	rule, err := s.ruleRepo.GetByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("get rule for viewing: %w", err)
	}
	if !rule.IsActive {
		return nil, apperrors.NotFound("rule", ruleID)
	}

	return s.Render(ctx, rule, viewerID)
}

// Render builds the viewer's RuleView. Full content goes to owners,
// purchasers, and anyone for free rules; everyone else gets a masked preview,
// and anonymous viewers get a placeholder with no content at all. Applied
// per rule, so list rendering masks each item independently.
func (s *ContentService) Render(ctx context.Context, rule *domain.Rule, viewerID string) (*RuleView, error) {
	view := &RuleView{
		ID:          rule.ID,
		OwnerID:     rule.OwnerID,
		Title:       rule.Title,
		Description: rule.Description,
		QueryFormat: rule.QueryFormat,
		Severity:    rule.Severity,
		Pricing:     rule.Pricing,
		Statistics:  rule.Statistics,
	}

	hasAccess, err := s.entitlements.HasActiveAccess(ctx, viewerID, rule)
	if err != nil {
		return nil, fmt.Errorf("check content access: %w", err)
	}

	if hasAccess {
		view.QueryText = rule.QueryText
		view.FullAccess = true
		return view, nil
	}

	if viewerID == "" {
		view.QueryText = maskPlaceholder
		return view, nil
	}

	view.QueryText = maskQueryText(rule.QueryText)
	return view, nil
}

// maskQueryText truncates the content to a fixed prefix and appends the
// purchase marker.
func maskQueryText(text string) string {
	runes := []rune(text)
	if len(runes) > maskPrefixLength {
		text = string(runes[:maskPrefixLength])
	}
	return text + maskMarker
}
