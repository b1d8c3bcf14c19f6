package domain

import (
	"time"
)

// Pricing describes how a rule is sold.
type Pricing struct {
	IsPaid   bool   `json:"is_paid"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Statistics is the derived aggregate carried on every rule. Rating and
// ReviewCount are owned by the review service; Purchases and Revenue by the
// transaction service; Downloads by the entitlement service.
type Statistics struct {
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	Downloads   int     `json:"downloads"`
	Purchases   int     `json:"purchases"`
	Revenue     int64   `json:"revenue"`
}

// Rule represents a detection rule listed on the marketplace. Rules are
// created and destroyed by the catalog; this core only reads them and mutates
// their statistics.
type Rule struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	QueryText   string     `json:"query_text,omitempty"`
	QueryFormat string     `json:"query_format,omitempty"`
	Severity    string     `json:"severity,omitempty"`
	Pricing     Pricing    `json:"pricing"`
	Statistics  Statistics `json:"statistics"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsPurchasable reports whether the rule can be bought: it must be active,
// paid, and carry a positive price.
func (r *Rule) IsPurchasable() bool {
	return r.IsActive && r.Pricing.IsPaid && r.Pricing.Amount > 0
}

// IsOwnedBy reports whether the given user is the rule's creator.
func (r *Rule) IsOwnedBy(userID string) bool {
	return userID != "" && r.OwnerID == userID
}
