// Package sinks implements concrete progress consumers: structured logging
// and Prometheus collectors. Each sink satisfies the progress.Sink interface.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/gearshed/camsync/internal/progress"
)

// LogSink emits structured logs for progress streams. Useful in development
// or when metrics scraping is unavailable.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("cycle_id", evt.CycleUUID().String()),
			zap.String("job", evt.Job),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", evt.Source),
			zap.Int64("created", evt.Created),
			zap.Int64("updated", evt.Updated),
			zap.Int64("skipped", evt.Skipped),
			zap.Int64("failed", evt.Failed),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
