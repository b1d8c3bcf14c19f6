package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sigmahub/marketplace/internal/domain"
	pkgkafka "github.com/sigmahub/marketplace/pkg/kafka"
)

// Kafka topic constants for marketplace domain events.
const (
	TopicRulePurchased   = "marketplace.rule.purchased"
	TopicRefundRequested = "marketplace.transaction.refund_requested"
	TopicRefunded        = "marketplace.transaction.refunded"
	TopicReviewCreated   = "marketplace.review.created"
)

// Aggregate type constants.
const (
	AggregateTypeTransaction = "transaction"
	AggregateTypeReview      = "review"
)

// Source identifier for events originating from the marketplace service.
const SourceMarketplace = "marketplace"

// RulePurchasedData is the payload for a rule.purchased event.
type RulePurchasedData struct {
	TransactionID  string `json:"transaction_id"`
	PurchaseID     string `json:"purchase_id"`
	RuleID         string `json:"rule_id"`
	BuyerID        string `json:"buyer_id"`
	SellerID       string `json:"seller_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PlatformFee    int64  `json:"platform_fee"`
	SellerEarnings int64  `json:"seller_earnings"`
}

// RefundRequestedData is the payload for a transaction.refund_requested event.
type RefundRequestedData struct {
	TransactionID string `json:"transaction_id"`
	RuleID        string `json:"rule_id"`
	BuyerID       string `json:"buyer_id"`
	SellerID      string `json:"seller_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

// RefundedData is the payload for a transaction.refunded event.
type RefundedData struct {
	TransactionID  string `json:"transaction_id"`
	RuleID         string `json:"rule_id"`
	BuyerID        string `json:"buyer_id"`
	SellerID       string `json:"seller_id"`
	Amount         int64  `json:"amount"`
	SellerEarnings int64  `json:"seller_earnings"`
	Approved       bool   `json:"approved"`
}

// ReviewCreatedData is the payload for a review.created event.
type ReviewCreatedData struct {
	ReviewID string `json:"review_id"`
	RuleID   string `json:"rule_id"`
	UserID   string `json:"user_id"`
	Rating   int    `json:"rating"`
	Verified bool   `json:"verified"`
}

// Producer publishes marketplace domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the marketplace.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishRulePurchased publishes a rule.purchased event.
func (p *Producer) PublishRulePurchased(ctx context.Context, txn *domain.Transaction, purchase *domain.Purchase) error {
	data := RulePurchasedData{
		TransactionID:  txn.ID,
		PurchaseID:     purchase.ID,
		RuleID:         txn.RuleID,
		BuyerID:        txn.BuyerID,
		SellerID:       txn.SellerID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		PlatformFee:    txn.PlatformFee,
		SellerEarnings: txn.SellerEarnings,
	}

	event, err := pkgkafka.NewEvent(TopicRulePurchased, txn.ID, AggregateTypeTransaction, SourceMarketplace, data)
	if err != nil {
		return fmt.Errorf("create rule.purchased event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicRulePurchased, event); err != nil {
		return fmt.Errorf("publish rule.purchased event: %w", err)
	}

	p.logger.DebugContext(ctx, "published rule.purchased event",
		slog.String("transaction_id", txn.ID),
		slog.String("rule_id", txn.RuleID),
	)

	return nil
}

// PublishRefundRequested publishes a transaction.refund_requested event.
func (p *Producer) PublishRefundRequested(ctx context.Context, txn *domain.Transaction, reason string) error {
	data := RefundRequestedData{
		TransactionID: txn.ID,
		RuleID:        txn.RuleID,
		BuyerID:       txn.BuyerID,
		SellerID:      txn.SellerID,
		Amount:        txn.Amount,
		Reason:        reason,
	}

	event, err := pkgkafka.NewEvent(TopicRefundRequested, txn.ID, AggregateTypeTransaction, SourceMarketplace, data)
	if err != nil {
		return fmt.Errorf("create refund_requested event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicRefundRequested, event); err != nil {
		return fmt.Errorf("publish refund_requested event: %w", err)
	}

	p.logger.DebugContext(ctx, "published refund_requested event",
		slog.String("transaction_id", txn.ID),
	)

	return nil
}

// PublishRefunded publishes a transaction.refunded event.
func (p *Producer) PublishRefunded(ctx context.Context, txn *domain.Transaction, approved bool) error {
	data := RefundedData{
		TransactionID:  txn.ID,
		RuleID:         txn.RuleID,
		BuyerID:        txn.BuyerID,
		SellerID:       txn.SellerID,
		Amount:         txn.Amount,
		SellerEarnings: txn.SellerEarnings,
		Approved:       approved,
	}

	event, err := pkgkafka.NewEvent(TopicRefunded, txn.ID, AggregateTypeTransaction, SourceMarketplace, data)
	if err != nil {
		return fmt.Errorf("create refunded event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicRefunded, event); err != nil {
		return fmt.Errorf("publish refunded event: %w", err)
	}

	p.logger.DebugContext(ctx, "published refunded event",
		slog.String("transaction_id", txn.ID),
		slog.Bool("approved", approved),
	)

	return nil
}

// PublishReviewCreated publishes a review.created event.
func (p *Producer) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	data := ReviewCreatedData{
		ReviewID: review.ID,
		RuleID:   review.RuleID,
		UserID:   review.UserID,
		Rating:   review.Rating,
		Verified: review.Verified,
	}

	event, err := pkgkafka.NewEvent(TopicReviewCreated, review.ID, AggregateTypeReview, SourceMarketplace, data)
	if err != nil {
		return fmt.Errorf("create review.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicReviewCreated, event); err != nil {
		return fmt.Errorf("publish review.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published review.created event",
		slog.String("review_id", review.ID),
		slog.String("rule_id", review.RuleID),
	)

	return nil
}
