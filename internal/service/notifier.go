// internal/service/notifier.go
package service

import (
	"context"
	"log/slog"
	"time"

	"custody-ledger/internal/domain"
)

// notifier makes delivery fire-and-forget: it detaches from the request's
// cancellation, bounds the call, and only logs failures.
type notifier struct {
	sink    NotificationSink
	timeout time.Duration
	logger  *slog.Logger
}

func newNotifier(sink NotificationSink, timeout time.Duration, logger *slog.Logger) *notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &notifier{sink: sink, timeout: timeout, logger: logger}
}

func (n *notifier) notify(ctx context.Context, note domain.Notification) {
	if n == nil || n.sink == nil {
		return
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.sink.Notify(ctx, note); err != nil {
		n.logger.Warn("Notification delivery failed", "kind", note.Kind, "reference", note.Reference,
			"user_id", note.UserID, "error", err)
	}
}
