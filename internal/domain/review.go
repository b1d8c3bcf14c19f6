package domain

import (
	"time"
)

// Review rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// MaxCommentLength bounds the review comment.
const MaxCommentLength = 2000

// Review is a user's rating of a rule. At most one active review exists per
// (user, rule) pair. Reviews are soft-deleted; inactive reviews are excluded
// from the rule's aggregate rating.
type Review struct {
	ID           string    `json:"id"`
	RuleID       string    `json:"rule_id"`
	UserID       string    `json:"user_id"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment,omitempty"`
	Verified     bool      `json:"verified"`
	HelpfulCount int       `json:"helpful_count"`
	Reported     bool      `json:"reported"`
	ReportReason string    `json:"report_reason,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RatingSummary is the aggregate recomputed from a rule's active reviews.
type RatingSummary struct {
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

// IsValidRating reports whether the rating is within [1, 5].
func IsValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}
