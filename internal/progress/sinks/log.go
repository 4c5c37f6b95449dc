package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/progress"
)

// LogSink writes each event as a structured log line. Failed units log at
// warn so they stand out in long runs.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageUnitDone:
			fields = append(fields,
				zap.Int("worker", evt.Worker),
				zap.String("unit", evt.Unit),
				zap.String("village", evt.Village),
				zap.Bool("success", evt.Success),
				zap.Int("captcha_attempts", evt.CaptchaAttempts),
			)
			if !evt.Success {
				fields = append(fields, zap.String("error_class", evt.ErrorClass), zap.String("note", evt.Note))
				s.logger.Warn("unit failed", fields...)
				continue
			}
			fields = append(fields, zap.String("artifact_id", evt.ArtifactID))
			s.logger.Info("unit done", fields...)
		default:
			fields = append(fields, zap.Int64("total", evt.Total), zap.String("note", evt.Note))
			s.logger.Info("run event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
