// Package notify delivers customer messages.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/app"
)

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg app.Message) error {
	fields := []zap.Field{
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)),
	}
	if msg.Document != nil {
		fields = append(fields, zap.String("document", msg.Document.Location))
	}
	n.logger.Info("notification sent", fields...)
	return nil
}
