package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/pkg/database"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// PurchaseRepository implements repository.PurchaseRepository using
// PostgreSQL.
type PurchaseRepository struct {
	pool database.DBTX
}

// NewPurchaseRepository creates a new PostgreSQL-backed purchase repository.
func NewPurchaseRepository(pool database.DBTX) *PurchaseRepository {
	return &PurchaseRepository{pool: pool}
}

const purchaseColumns = `id, buyer_id, rule_id, transaction_id, license_key, access_granted_at, expires_at, download_count, last_downloaded_at, download_history, is_active, created_at, updated_at`

// GetByID retrieves a purchase by its ID.
func (r *PurchaseRepository) GetByID(ctx context.Context, id string) (*domain.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE id = $1`

	p, err := r.scanPurchase(ctx, query, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("purchase", id)
		}
		return nil, err
	}

	return p, nil
}

// GetActive retrieves the buyer's active purchase for a rule. The partial
// unique index guarantees at most one row matches.
func (r *PurchaseRepository) GetActive(ctx context.Context, buyerID, ruleID string) (*domain.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE buyer_id = $1 AND rule_id = $2 AND is_active`

	p, err := r.scanPurchase(ctx, query, buyerID, ruleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("active purchase for rule", ruleID)
		}
		return nil, err
	}

	return p, nil
}

// ListByBuyer returns purchases for a buyer with pagination.
func (r *PurchaseRepository) ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Purchase, int, error) {
	query := `
		SELECT ` + purchaseColumns + `,
		       count(*) OVER() AS total_count
		FROM purchases
		WHERE buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, buyerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list purchases by buyer: %w", err)
	}
	defer rows.Close()

	var (
		purchases  []domain.Purchase
		totalCount int
	)

	for rows.Next() {
		var (
			p           domain.Purchase
			historyJSON []byte
		)

		if err := rows.Scan(
			&p.ID,
			&p.BuyerID,
			&p.RuleID,
			&p.TransactionID,
			&p.LicenseKey,
			&p.AccessGrantedAt,
			&p.ExpiresAt,
			&p.DownloadCount,
			&p.LastDownloadedAt,
			&historyJSON,
			&p.IsActive,
			&p.CreatedAt,
			&p.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan purchase row: %w", err)
		}

		if historyJSON != nil {
			if err := json.Unmarshal(historyJSON, &p.DownloadHistory); err != nil {
				return nil, 0, fmt.Errorf("unmarshal download history: %w", err)
			}
		}

		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate purchase rows: %w", err)
	}

	if purchases == nil {
		purchases = []domain.Purchase{}
	}

	return purchases, totalCount, nil
}

// RecordDownload appends a download record to the purchase's history and
// bumps its counter in one statement. Only an active purchase accrues
// history; a purchase revoked after the access check no longer matches.
func (r *PurchaseRepository) RecordDownload(ctx context.Context, purchaseID string, record domain.DownloadRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal download record: %w", err)
	}

	query := `
		UPDATE purchases
		SET download_count = download_count + 1,
		    last_downloaded_at = $1,
		    download_history = download_history || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $3 AND is_active`

	ct, err := r.pool.Exec(ctx, query, record.DownloadedAt, recordJSON, purchaseID)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("purchase", purchaseID)
	}

	return nil
}

// scanPurchase executes a query expected to return a single purchase row.
// A pgx.ErrNoRows result is returned unmapped; callers attach the resource
// context.
func (r *PurchaseRepository) scanPurchase(ctx context.Context, query string, args ...any) (*domain.Purchase, error) {
	var (
		p           domain.Purchase
		historyJSON []byte
	)

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.BuyerID,
		&p.RuleID,
		&p.TransactionID,
		&p.LicenseKey,
		&p.AccessGrantedAt,
		&p.ExpiresAt,
		&p.DownloadCount,
		&p.LastDownloadedAt,
		&historyJSON,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan purchase: %w", err)
	}

	if historyJSON != nil {
		if err := json.Unmarshal(historyJSON, &p.DownloadHistory); err != nil {
			return nil, fmt.Errorf("unmarshal download history: %w", err)
		}
	}

	return &p, nil
}
