// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-reporter/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Emit logs the event using structured fields.
func (s *LogSink) Emit(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("session_id", evt.SessionID.String()),
		zap.String("status", string(evt.Status)),
		zap.Float64("progress_percent", evt.ProgressPercent),
		zap.Int("total_results", evt.TotalResults),
	}
	if evt.CurrentKeyword != "" {
		fields = append(fields, zap.String("keyword", evt.CurrentKeyword))
	}
	if evt.Error != "" {
		fields = append(fields, zap.String("error", evt.Error))
	}
	s.logger.Info("progress event", fields...)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
