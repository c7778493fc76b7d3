package notify

import (
	"context"
	"log/slog"
)

// Log writes notifications to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, n.Message,
		slog.String("task_id", n.TaskID),
		slog.Time("fired_at", n.FiredAt),
	)
	return nil
}
