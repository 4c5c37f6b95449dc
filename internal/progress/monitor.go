package progress

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultMonitorInterval = 30 * time.Second

// Monitor logs a tracker snapshot every interval and emits a heartbeat event
// until ctx ends. It is the low-frequency reader the tracker is built for.
func Monitor(ctx context.Context, runID [16]byte, t *Tracker, emitter Emitter, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := t.Snapshot()
			logger.Info("run progress",
				zap.Int64("processed", snap.Processed),
				zap.Int64("total", snap.Total),
				zap.Int64("successful", snap.Successful),
				zap.Int64("failed", snap.Failed),
				zap.Float64("percent", snap.Percentage),
				zap.Float64("per_minute", snap.PerMinute),
				zap.Duration("eta", snap.ETA),
			)
			if emitter != nil {
				emitter.Emit(Event{
					RunID:  runID,
					TS:     snap.TakenAt.UTC(),
					Stage:  StageRunHB,
					Worker: -1,
					Total:  snap.Processed,
					Dur:    snap.Elapsed,
				})
			}
		}
	}
}
