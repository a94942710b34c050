package notification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Type identifies a notification template.
type Type string

const (
	// TypeDownloadCompleted carries the retrieval URL and file name of a
	// finished export.
	TypeDownloadCompleted Type = "download_completed"
)

// Dispatcher delivers a notification to a user. Implementations are expected
// to be best-effort; the caller decides whether a failure matters.
type Dispatcher interface {
	Send(ctx context.Context, notificationType Type, recipient uuid.UUID, data map[string]string) error
}

// LogDispatcher writes notifications to the log. It stands in for the
// platform notification system in deployments that have none wired.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher { return &LogDispatcher{} }

func (d *LogDispatcher) Send(ctx context.Context, notificationType Type, recipient uuid.UUID, data map[string]string) error {
	attrs := []any{
		slog.String("type", string(notificationType)),
		slog.String("recipient", recipient.String()),
	}
	for k, v := range data {
		attrs = append(attrs, slog.String(k, v))
	}
	slog.InfoContext(ctx, "notification.sent", attrs...)
	return nil
}
