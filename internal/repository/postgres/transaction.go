package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sigmahub/marketplace/internal/domain"
	"github.com/sigmahub/marketplace/pkg/database"
	apperrors "github.com/sigmahub/marketplace/pkg/errors"
)

// TransactionRepository implements repository.TransactionRepository using
// PostgreSQL.
type TransactionRepository struct {
	pool database.DBTX
}

// NewTransactionRepository creates a new PostgreSQL-backed transaction
// repository.
func NewTransactionRepository(pool database.DBTX) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const transactionColumns = `id, buyer_id, seller_id, rule_id, amount, currency, payment_method, payment_reference, status, platform_fee, seller_earnings, metadata, created_at, updated_at`

// CreateCompleted records a completed sale atomically: the ledger entry, the
// purchase entitlement, and the rule's sales counters all commit together or
// not at all. The partial unique index on active purchases rejects a second
// entitlement for the same (buyer, rule), which surfaces here as ALREADY_OWNED
// even when two purchases race.
func (r *TransactionRepository) CreateCompleted(ctx context.Context, txn *domain.Transaction, purchase *domain.Purchase) error {
	metadataJSON, err := json.Marshal(metadataOrEmpty(txn.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	historyJSON, err := json.Marshal(downloadHistoryOrEmpty(purchase.DownloadHistory))
	if err != nil {
		return fmt.Errorf("marshal download history: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txnQuery := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = tx.Exec(ctx, txnQuery,
		txn.ID,
		txn.BuyerID,
		txn.SellerID,
		txn.RuleID,
		txn.Amount,
		txn.Currency,
		txn.PaymentMethod,
		txn.PaymentReference,
		txn.Status,
		txn.PlatformFee,
		txn.SellerEarnings,
		metadataJSON,
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	purchaseQuery := `
		INSERT INTO purchases (id, buyer_id, rule_id, transaction_id, license_key, access_granted_at, expires_at, download_count, last_downloaded_at, download_history, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, purchaseQuery,
		purchase.ID,
		purchase.BuyerID,
		purchase.RuleID,
		purchase.TransactionID,
		purchase.LicenseKey,
		purchase.AccessGrantedAt,
		purchase.ExpiresAt,
		purchase.DownloadCount,
		purchase.LastDownloadedAt,
		historyJSON,
		purchase.IsActive,
		purchase.CreatedAt,
		purchase.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("ALREADY_OWNED", "buyer already owns this rule")
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	statsQuery := `
		UPDATE rules
		SET purchases = purchases + 1, revenue = revenue + $1, updated_at = NOW()
		WHERE id = $2`

	if _, err = tx.Exec(ctx, statsQuery, txn.Amount, txn.RuleID); err != nil {
		return fmt.Errorf("update rule sales counters: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1`

	var (
		txn          domain.Transaction
		metadataJSON []byte
	)

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&txn.ID,
		&txn.BuyerID,
		&txn.SellerID,
		&txn.RuleID,
		&txn.Amount,
		&txn.Currency,
		&txn.PaymentMethod,
		&txn.PaymentReference,
		&txn.Status,
		&txn.PlatformFee,
		&txn.SellerEarnings,
		&metadataJSON,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("transaction", id)
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &txn, nil
}

// UpdateStatus transitions a transaction between statuses and persists its
// metadata. The WHERE clause pins the prior status, so a concurrent
// transition loses cleanly instead of overwriting.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, txn *domain.Transaction, from, to string) error {
	metadataJSON, err := json.Marshal(metadataOrEmpty(txn.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	txn.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE transactions
		SET status = $1, metadata = $2, updated_at = $3
		WHERE id = $4 AND status = $5`

	ct, err := r.pool.Exec(ctx, query, to, metadataJSON, txn.UpdatedAt, txn.ID, from)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.Conflict("INVALID_STATE", fmt.Sprintf("transaction is no longer %s", from))
	}

	txn.Status = to

	return nil
}

// MarkRefunded finalizes an approved refund atomically: the transaction moves
// from disputed to refunded, the seller's earnings come back off the rule's
// revenue, and the buyer's entitlement is revoked.
func (r *TransactionRepository) MarkRefunded(ctx context.Context, txn *domain.Transaction) error {
	metadataJSON, err := json.Marshal(metadataOrEmpty(txn.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	txn.UpdatedAt = time.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	statusQuery := `
		UPDATE transactions
		SET status = $1, metadata = $2, updated_at = $3
		WHERE id = $4 AND status = $5`

	ct, err := tx.Exec(ctx, statusQuery,
		domain.TransactionStatusRefunded,
		metadataJSON,
		txn.UpdatedAt,
		txn.ID,
		domain.TransactionStatusDisputed,
	)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.Conflict("INVALID_STATE", "transaction is no longer disputed")
	}

	revenueQuery := `
		UPDATE rules
		SET revenue = revenue - $1, updated_at = NOW()
		WHERE id = $2`

	if _, err = tx.Exec(ctx, revenueQuery, txn.SellerEarnings, txn.RuleID); err != nil {
		return fmt.Errorf("reverse rule revenue: %w", err)
	}

	revokeQuery := `
		UPDATE purchases
		SET is_active = FALSE, updated_at = NOW()
		WHERE transaction_id = $1 AND is_active`

	if _, err = tx.Exec(ctx, revokeQuery, txn.ID); err != nil {
		return fmt.Errorf("revoke purchase: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refund: %w", err)
	}

	txn.Status = domain.TransactionStatusRefunded

	return nil
}

// ListByBuyer returns transactions for a buyer with pagination.
func (r *TransactionRepository) ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Transaction, int, error) {
	return r.list(ctx, "buyer_id", buyerID, offset, limit)
}

// ListBySeller returns transactions for a seller with pagination.
func (r *TransactionRepository) ListBySeller(ctx context.Context, sellerID string, offset, limit int) ([]domain.Transaction, int, error) {
	return r.list(ctx, "seller_id", sellerID, offset, limit)
}

func (r *TransactionRepository) list(ctx context.Context, column, id string, offset, limit int) ([]domain.Transaction, int, error) {
	query := `
		SELECT ` + transactionColumns + `,
		       count(*) OVER() AS total_count
		FROM transactions
		WHERE ` + column + ` = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, id, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions by %s: %w", column, err)
	}
	defer rows.Close()

	var (
		txns       []domain.Transaction
		totalCount int
	)

	for rows.Next() {
		var (
			txn          domain.Transaction
			metadataJSON []byte
		)

		if err := rows.Scan(
			&txn.ID,
			&txn.BuyerID,
			&txn.SellerID,
			&txn.RuleID,
			&txn.Amount,
			&txn.Currency,
			&txn.PaymentMethod,
			&txn.PaymentReference,
			&txn.Status,
			&txn.PlatformFee,
			&txn.SellerEarnings,
			&metadataJSON,
			&txn.CreatedAt,
			&txn.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &txn.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}

		txns = append(txns, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}

	if txns == nil {
		txns = []domain.Transaction{}
	}

	return txns, totalCount, nil
}

// metadataOrEmpty keeps the metadata column a JSON object rather than NULL.
func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// downloadHistoryOrEmpty keeps the history column a JSON array rather than NULL.
func downloadHistoryOrEmpty(h []domain.DownloadRecord) []domain.DownloadRecord {
	if h == nil {
		return []domain.DownloadRecord{}
	}
	return h
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
