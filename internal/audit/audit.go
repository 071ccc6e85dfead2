// Package audit journals who changed which lead or invoice.
package audit

import (
	"context"
	"log/slog"

	"salesboard/internal/domain"
)

type Sink interface {
	Record(ctx context.Context, entry domain.AuditLog) error
}

// LogSink writes entries to the structured log only.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, entry domain.AuditLog) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("action", entry.Action),
		slog.String("entity_type", entry.EntityType),
		slog.String("entity_id", entry.EntityID),
		slog.String("actor", entry.ActorUsername),
		slog.String("detail", entry.Detail),
	)
	return nil
}

// Multi fans an entry out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Record(ctx context.Context, entry domain.AuditLog) error {
	var first error
	for _, sink := range m {
		if err := sink.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
