// Package notify delivers best-effort notifications to the platform's
// notification service. Delivery failures never fail the operation that
// triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notification kind constants.
const (
	KindPurchaseConfirmed = "purchase_confirmed"
	KindSaleMade          = "sale_made"
	KindRefundRequested   = "refund_requested"
	KindRefundResolved    = "refund_resolved"
	KindReviewReceived    = "review_received"
)

// Notification is a single message addressed to one user.
type Notification struct {
	UserID string         `json:"user_id"`
	Kind   string         `json:"kind"`
	Title  string         `json:"title"`
	Data   map[string]any `json:"data,omitempty"`
}

// Notifier delivers notifications.
type Notifier interface {
	// Notify sends a notification. Implementations are best-effort and must
	// not block the caller for longer than their configured timeout.
	Notify(ctx context.Context, n Notification)
}

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPNotifier posts notifications to the notification service over HTTP.
type HTTPNotifier struct {
	client  HTTPDoer
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHTTPNotifier creates an HTTP notifier targeting the given base URL.
func NewHTTPNotifier(client HTTPDoer, baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		client:  client,
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger,
	}
}

// Notify posts the notification. Errors are logged and swallowed; an
// unreachable notification service must not fail purchases or refunds.
func (n *HTTPNotifier) Notify(ctx context.Context, notification Notification) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	body, err := json.Marshal(notification)
	if err != nil {
		n.logger.ErrorContext(ctx, "marshal notification",
			slog.String("kind", notification.Kind),
			slog.String("error", err.Error()),
		)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/api/v1/notifications", bytes.NewReader(body))
	if err != nil {
		n.logger.ErrorContext(ctx, "create notification request",
			slog.String("kind", notification.Kind),
			slog.String("error", err.Error()),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(ctx, req)
	if err != nil {
		n.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("kind", notification.Kind),
			slog.String("user_id", notification.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		n.logger.WarnContext(ctx, "notification rejected",
			slog.String("kind", notification.Kind),
			slog.String("user_id", notification.UserID),
			slog.String("status", fmt.Sprintf("%d", resp.StatusCode)),
		)
	}
}

// NoopNotifier discards all notifications. Used when no notification service
// is configured.
type NoopNotifier struct{}

// Notify implements Notifier.
func (NoopNotifier) Notify(context.Context, Notification) {}
