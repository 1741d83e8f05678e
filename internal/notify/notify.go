// Package notify delivers "your approval is needed" signals. Delivery is
// fire-and-forget: failures are logged and swallowed, never re-thrown into
// the workflow that triggered them.
package notify

import (
	"context"
	"log/slog"

	id "entitle/pkg/domain"
)

// Message is one notification to one user.
type Message struct {
	UserID id.UserID
	Title  string
	Body   string
	Link   string
}

// Notifier dispatches a message. Implementations decide the channel (log,
// Kafka topic for downstream mailers, push).
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Dispatch is the swallow helper every caller goes through: errors are logged
// with context and dropped.
func Dispatch(ctx context.Context, logger *slog.Logger, notifier Notifier, msg Message) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, msg); err != nil && logger != nil {
		logger.WarnContext(ctx, "notification dispatch failed",
			"user_id", msg.UserID,
			"title", msg.Title,
			"error", err,
		)
	}
}

// LogNotifier writes notifications to the structured log. The default in
// development and the fallback when no broker is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.Logger.InfoContext(ctx, "notification",
		"user_id", msg.UserID,
		"title", msg.Title,
		"body", msg.Body,
		"link", msg.Link,
	)
	return nil
}
