package domain

import (
	"time"
)

// DownloadRecord is one entry in a purchase's append-only download history.
type DownloadRecord struct {
	DownloadedAt time.Time `json:"downloaded_at"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// Purchase is the buyer's entitlement to a rule's paid content, minted once
// per completed transaction. At most one active purchase may exist per
// (buyer, rule) pair; the store enforces this with a uniqueness constraint.
type Purchase struct {
	ID               string           `json:"id"`
	BuyerID          string           `json:"buyer_id"`
	RuleID           string           `json:"rule_id"`
	TransactionID    string           `json:"transaction_id"`
	LicenseKey       string           `json:"license_key"`
	AccessGrantedAt  time.Time        `json:"access_granted_at"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	DownloadCount    int              `json:"download_count"`
	LastDownloadedAt *time.Time       `json:"last_downloaded_at,omitempty"`
	DownloadHistory  []DownloadRecord `json:"download_history,omitempty"`
	IsActive         bool             `json:"is_active"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// GrantsAccess reports whether the purchase entitles its holder to the rule's
// content at the given instant: it must be active and not expired.
func (p *Purchase) GrantsAccess(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return false
	}
	return true
}
