package notify

import (
	"context"
	"log/slog"

	"socialfeed/feed"
)

// Log writes notifications and reset links to the structured log instead of
// delivering them.  It is used when no email provider is configured.
type Log struct{}

var _ feed.Notifier = Log{}
var _ feed.ResetMailer = Log{}

func (Log) Notify(ctx context.Context, to *feed.Recipient, n *feed.Notification) error {
	slog.InfoContext(ctx, "Notification",
		slog.String("kind", n.Kind),
		slog.String("user", to.UserID),
		slog.String("title", n.Title),
		slog.String("body", n.Body))
	return nil
}

func (Log) SendPasswordReset(ctx context.Context, email, link string) error {
	slog.InfoContext(ctx, "Password reset", slog.String("email", email), slog.String("link", link))
	return nil
}
