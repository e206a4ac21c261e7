package notify

import (
	"context"

	"taskflow/internal/logger"

	"go.uber.org/zap"
)

// LogSink writes notifications to the process log instead of delivering them.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, n Notification) error {
	logger.Info("Notify: notification",
		zap.Strings("recipients", n.Recipients),
		zap.String("subject", n.Subject),
		zap.Int("body_bytes", len(n.Body)))
	return nil
}
