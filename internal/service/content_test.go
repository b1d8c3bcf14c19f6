package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sigmahub/marketplace/internal/domain"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

func newContentService(ruleRepo *mockRuleRepo, purchaseRepo *mockPurchaseRepo) *ContentService {
	entitlements := NewEntitlementService(ruleRepo, purchaseRepo, nil, newTestLogger())
	return NewContentService(ruleRepo, entitlements)
}

func TestRender_OwnerSeesFullContent(t *testing.T) {
	ruleRepo := new(mockRuleRepo)
	svc := newContentService(ruleRepo, new(mockPurchaseRepo))

	rule := newTestRule(t)

	view, err := svc.Render(context.Background(), rule, rule.OwnerID)

	require.NoError(t, err)
	assert.Equal(t, rule.QueryText, view.QueryText)
	assert.True(t, view.FullAccess)
}

func TestRender_PurchaserSeesFullContent(t *testing.T) {
	ruleRepo := new(mockRuleRepo)
	purchaseRepo := new(mockPurchaseRepo)
	svc := newContentService(ruleRepo, purchaseRepo)

	rule := newTestRule(t)
	userID := uuid.New().String()
	purchaseRepo.On("GetActive", mock.Anything, userID, rule.ID).Return(newTestPurchase(t, userID, rule.ID), nil)

	view, err := svc.Render(context.Background(), rule, userID)

	require.NoError(t, err)
	assert.Equal(t, rule.QueryText, view.QueryText)
	assert.True(t, view.FullAccess)
}

func TestRender_FreeRuleAlwaysFull(t *testing.T) {
	ruleRepo := new(mockRuleRepo)
	svc := newContentService(ruleRepo, new(mockPurchaseRepo))

	rule := newTestRule(t)
	rule.Pricing = domain.Pricing{IsPaid: false}

	view, err := svc.Render(context.Background(), rule, "")

	require.NoError(t, err)
	assert.Equal(t, rule.QueryText, view.QueryText)
	assert.True(t, view.FullAccess)
}

func TestRender_NonPurchaserGetsTruncatedPrefix(t *testing.T) {
	ruleRepo := new(mockRuleRepo)
	purchaseRepo := new(mockPurchaseRepo)
	svc := newContentService(ruleRepo, purchaseRepo)

	rule := newTestRule(t)
	rule.QueryText = strings.Repeat("sequence by host.id [process where true] ", 10)
	userID := uuid.New().String()
	purchaseRepo.On("GetActive", mock.Anything, userID, rule.ID).Return(nil, apperrors.ErrNotFound)

	view, err := svc.Render(context.Background(), rule, userID)

	require.NoError(t, err)
	assert.False(t, view.FullAccess)
	assert.True(t, strings.HasSuffix(view.QueryText, maskMarker))

	prefix := strings.TrimSuffix(view.QueryText, maskMarker)
	assert.Len(t, []rune(prefix), maskPrefixLength)
	assert.True(t, strings.HasPrefix(rule.QueryText, prefix))
}

func TestRender_ShortContentKeptWholeButMarked(t *testing.T) {
	ruleRepo := new(mockRuleRepo)
	purchaseRepo := new(mockPurchaseRepo)
	svc := newContentService(ruleRepo, purchaseRepo)

	rule := newTestRule(t)
	rule.QueryText = "short query"
	userID := uuid.New().String()
	purchaseRepo.On("GetActive", mock.Anything, userID, rule.ID).Return(nil, apperrors.ErrNotFound)

	view, err := svc.Render(context.Background(), rule, userID)

	require.NoError(t, err)
	assert.Equal(t, "short query"+maskMarker, view.QueryText)
}

// Anonymous viewers must not see any substring of the paid content.
func TestRender_AnonymousGetsPlaceholder(t *testing.T) {
	ruleRepo := new(mockRuleRepo)
	svc := newContentService(ruleRepo, new(mockPurchaseRepo))

	rule := newTestRule(t)
	rule.QueryText = "process.command_line : *secret-detection-logic*"

	view, err := svc.Render(context.Background(), rule, "")

	require.NoError(t, err)
	assert.False(t, view.FullAccess)
	assert.Equal(t, maskPlaceholder, view.QueryText)
	assert.NotContains(t, view.QueryText, "secret-detection-logic")
}

func TestGetRule_InactiveHidden(t *testing.T) {
	ruleRepo := new(mockRuleRepo)
	svc := newContentService(ruleRepo, new(mockPurchaseRepo))

	rule := newTestRule(t)
	rule.IsActive = false
	ruleRepo.On("GetByID", mock.Anything, rule.ID).Return(rule, nil)

	view, err := svc.GetRule(context.Background(), rule.ID, "")

	assert.Nil(t, view)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetRule_RendersForViewer(t *testing.T) {
	ruleRepo := new(mockRuleRepo)
	svc := newContentService(ruleRepo, new(mockPurchaseRepo))

	rule := newTestRule(t)
	ruleRepo.On("GetByID", mock.Anything, rule.ID).Return(rule, nil)

	view, err := svc.GetRule(context.Background(), rule.ID, rule.OwnerID)

	require.NoError(t, err)
	assert.Equal(t, rule.QueryText, view.QueryText)
}
