package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/progress"
)

// LogSink emits one structured log line per progress event.
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
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("publisher_ref", evt.PublisherRef),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage == progress.StagePageDone {
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("cursor", evt.Cursor),
				zap.Int64("records", evt.Records),
				zap.Int64("num_found", evt.Total),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageRunError {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
