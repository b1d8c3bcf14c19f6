package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/pkg/database"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

var purchaseTestColumns = []string{
	"id", "buyer_id", "rule_id", "transaction_id", "license_key",
	"access_granted_at", "expires_at", "download_count", "last_downloaded_at",
	"download_history", "is_active", "created_at", "updated_at",
}

func purchaseRow(t *testing.T, p *domain.Purchase) *pgxmock.Rows {
	t.Helper()

	historyJSON, err := json.Marshal(p.DownloadHistory)
	require.NoError(t, err)

	return pgxmock.NewRows(purchaseTestColumns).AddRow(
		p.ID, p.BuyerID, p.RuleID, p.TransactionID, p.LicenseKey,
		p.AccessGrantedAt, p.ExpiresAt, p.DownloadCount, p.LastDownloadedAt,
		historyJSON, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
}

func TestPurchaseRepository_GetActive(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPurchaseRepository(mock)
	p := samplePurchase()

	mock.ExpectQuery("SELECT .+ FROM purchases").
		WithArgs(p.BuyerID, p.RuleID).
		WillReturnRows(purchaseRow(t, p))

	result, err := repo.GetActive(context.Background(), p.BuyerID, p.RuleID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, result.ID)
	assert.Equal(t, p.LicenseKey, result.LicenseKey)
	assert.True(t, result.IsActive)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestPurchaseRepository_GetActive_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPurchaseRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM purchases").
		WithArgs("usr-buyer", "rule-unowned").
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.GetActive(context.Background(), "usr-buyer", "rule-unowned")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestPurchaseRepository_ListByBuyer(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPurchaseRepository(mock)
	p := samplePurchase()
	p.DownloadHistory = []domain.DownloadRecord{
		{DownloadedAt: time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC), IPAddress: "203.0.113.7"},
	}
	p.DownloadCount = 1

	historyJSON, err := json.Marshal(p.DownloadHistory)
	require.NoError(t, err)

	columns := append(append([]string{}, purchaseTestColumns...), "total_count")

	mock.ExpectQuery("SELECT .+ FROM purchases").
		WithArgs(p.BuyerID, 20, 0).
		WillReturnRows(
			pgxmock.NewRows(columns).AddRow(
				p.ID, p.BuyerID, p.RuleID, p.TransactionID, p.LicenseKey,
				p.AccessGrantedAt, p.ExpiresAt, p.DownloadCount, p.LastDownloadedAt,
				historyJSON, p.IsActive, p.CreatedAt, p.UpdatedAt, 1,
			),
		)

	purchases, total, err := repo.ListByBuyer(context.Background(), p.BuyerID, 0, 20)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
	assert.Equal(t, 1, total)
	require.Len(t, purchases[0].DownloadHistory, 1)
	assert.Equal(t, "203.0.113.7", purchases[0].DownloadHistory[0].IPAddress)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestPurchaseRepository_RecordDownload(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPurchaseRepository(mock)

	record := domain.DownloadRecord{
		DownloadedAt: time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC),
		IPAddress:    "203.0.113.7",
		UserAgent:    "curl/8.5",
	}

	recordJSON, err := json.Marshal(record)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE purchases").
		WithArgs(record.DownloadedAt, recordJSON, "pur-001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.RecordDownload(context.Background(), "pur-001", record)
	assert.NoError(t, err)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestPurchaseRepository_RecordDownload_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPurchaseRepository(mock)

	record := domain.DownloadRecord{DownloadedAt: time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)}

	recordJSON, err := json.Marshal(record)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE purchases").
		WithArgs(record.DownloadedAt, recordJSON, "nonexistent-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.RecordDownload(context.Background(), "nonexistent-id", record)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}

func TestPurchaseRepository_RecordDownload_RevokedPurchase(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPurchaseRepository(mock)

	record := domain.DownloadRecord{DownloadedAt: time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)}

	recordJSON, err := json.Marshal(record)
	require.NoError(t, err)

	// A revoked purchase is filtered out by the is_active predicate, so the
	// update matches no rows even though the id exists.
	mock.ExpectExec(`UPDATE purchases(?s).+WHERE id = \$3 AND is_active`).
		WithArgs(record.DownloadedAt, recordJSON, "pur-revoked").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.RecordDownload(context.Background(), "pur-revoked", record)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = mock.ExpectationsWereMet()
	assert.NoError(t, err)
}
