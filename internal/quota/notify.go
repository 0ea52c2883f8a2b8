package quota

import (
	"context"

	"quotabot/core/logger"
	"quotabot/core/telegram/netutil"
	"quotabot/internal/transport"

	"log/slog"
)

// Notifier delivers the post-registration message to the chosen contact.
// The first attempt is synchronous so the user can be warned inline; a
// retryable transport failure is additionally handed to the dispatcher
// for background redelivery.
type Notifier struct {
	client transport.Client
	disp   *transport.Dispatcher
}

// NewNotifier builds a notifier. disp may be nil to disable background
// retries.
func NewNotifier(client transport.Client, disp *transport.Dispatcher) *Notifier {
	return &Notifier{client: client, disp: disp}
}

// Notify sends text to the @username contact. The returned error reflects
// the synchronous attempt only.
func (n *Notifier) Notify(ctx context.Context, contact, text string) error {
	_, err := n.client.SendUsername(ctx, contact, text)
	if err == nil {
		return nil
	}
	logger.Warn(ctx, "quota", "notify.failed",
		slog.String("contact", logger.SanitizeLimit(contact, 64)),
		slog.String("err", err.Error()),
	)
	if n.disp != nil && netutil.ShouldRetry(err) {
		if qerr := n.disp.Enqueue(ctx, "notify "+contact, func() error {
			_, serr := n.client.SendUsername(logger.Background(), contact, text)
			return serr
		}); qerr != nil {
			logger.Warn(ctx, "quota", "notify.enqueue.failed", slog.String("err", qerr.Error()))
		}
	}
	return err
}
