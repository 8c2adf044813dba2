package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/progress"
)

// LogSink writes one debug line per event and an info line per job milestone.
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
			zap.String("job_id", evt.JobID),
			zap.String("connection", evt.Connection),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageActivity:
			fields = append(fields,
				zap.String("activity", evt.ActivityType),
				zap.String("entity", evt.Entity),
				zap.String("result_code", evt.ResultCode),
				zap.Int64("bytes", evt.Bytes),
			)
			s.logger.Debug("activity", fields...)
		case progress.StageDocument:
			fields = append(fields,
				zap.String("document", evt.Entity),
				zap.String("outcome", evt.Outcome),
				zap.Int64("bytes", evt.Bytes),
			)
			s.logger.Debug("document", fields...)
		default:
			fields = append(fields, zap.Duration("dur", evt.Dur))
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("job progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
