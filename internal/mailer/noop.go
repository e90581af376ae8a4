package mailer

import (
	"context"

	"go.uber.org/zap"
)

// NoopSender logs messages instead of delivering them. It is the sender used
// when SMTP is not configured, so report commands stay runnable in
// development.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender builds a NoopSender.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopSender{logger: logger}
}

// Send logs the message and reports it as skipped.
func (s *NoopSender) Send(_ context.Context, msg Message) (Delivery, error) {
	s.logger.Info("smtp not configured, skipping delivery",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return Delivery{Status: StatusSkipped}, nil
}
