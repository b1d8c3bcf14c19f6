package domain

import (
	"time"
)

// Transaction status constants. Refunded and failed are terminal.
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusDisputed  = "disputed"
	TransactionStatusRefunded  = "refunded"
	TransactionStatusFailed    = "failed"
)

// Payment method constants.
const (
	PaymentMethodCreditCard   = "credit_card"
	PaymentMethodDebitCard    = "debit_card"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodWallet       = "wallet"
)

// RefundWindow is how long after creation a buyer may dispute a completed
// transaction.
const RefundWindow = 30 * 24 * time.Hour

// Metadata keys recorded by the refund workflow.
const (
	MetadataKeyRefundReason      = "refund_reason"
	MetadataKeyRefundRequestedBy = "refund_requested_by"
	MetadataKeyRefundRequestedAt = "refund_requested_at"
	MetadataKeyRefundResolvedAt  = "refund_resolved_at"
	MetadataKeyRefundApproved    = "refund_approved"
)

// Transaction is one entry in the ledger: a single purchase attempt with its
// fee split. Purchases are authorized synchronously, so a transaction is
// written directly as completed or failed; status afterwards changes only
// through the refund workflow.
type Transaction struct {
	ID               string         `json:"id"`
	BuyerID          string         `json:"buyer_id"`
	SellerID         string         `json:"seller_id"`
	RuleID           string         `json:"rule_id"`
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	PaymentMethod    string         `json:"payment_method"`
	PaymentReference string         `json:"payment_reference,omitempty"`
	Status           string         `json:"status"`
	PlatformFee      int64          `json:"platform_fee"`
	SellerEarnings   int64          `json:"seller_earnings"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// WithinRefundWindow reports whether a refund may still be requested at the
// given instant.
func (t *Transaction) WithinRefundWindow(now time.Time) bool {
	return now.Sub(t.CreatedAt) <= RefundWindow
}

// IsTerminal reports whether the transaction can no longer change state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusRefunded || t.Status == TransactionStatusFailed
}

// ValidPaymentMethods returns all valid payment methods.
func ValidPaymentMethods() []string {
	return []string{
		PaymentMethodCreditCard,
		PaymentMethodDebitCard,
		PaymentMethodBankTransfer,
		PaymentMethodWallet,
	}
}

// IsValidPaymentMethod checks whether the given method is a valid payment method.
func IsValidPaymentMethod(method string) bool {
	for _, m := range ValidPaymentMethods() {
		if m == method {
			return true
		}
	}
	return false
}
