package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/progress"
	"github.com/JakeFAU/landrecord-scraper/internal/store"
)

// StoreSink persists run headers and unit outcomes via a store.RunRepository.
// Unit events are grouped per run so each batch costs one RecordUnits call.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. Pending units are flushed before any
// run completion so counters are final when the run is closed.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID][]store.UnitRecord)
	var order []uuid.UUID

	flush := func() error {
		for _, runID := range order {
			units := pending[runID]
			if len(units) == 0 {
				continue
			}
			if err := s.repo.RecordUnits(ctx, runID, units); err != nil {
				return fmt.Errorf("record units: %w", err)
			}
		}
		pending = make(map[uuid.UUID][]store.UnitRecord)
		order = order[:0]
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, store.Run{
				ID:        runID,
				District:  evt.District,
				Taluka:    evt.Taluka,
				Total:     evt.Total,
				StartedAt: evt.TS,
				Status:    store.RunRunning,
			}); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageUnitDone:
			if _, ok := pending[runID]; !ok {
				order = append(order, runID)
			}
			pending[runID] = append(pending[runID], toUnitRecord(evt))
		case progress.StageRunDone, progress.StageRunError:
			if err := flush(); err != nil {
				return err
			}
			if err := s.completeRun(ctx, runID, evt); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *StoreSink) completeRun(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Note != "" {
		n := evt.Note
		note = &n
	}
	if evt.Stage == progress.StageRunError {
		status = store.RunError
	} else if parsed, err := store.ParseRunStatus(evt.Status); err == nil {
		status = parsed
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	s.logger.Debug("run persisted", zap.String("run_id", runID.String()), zap.String("status", string(status)))
	return nil
}

func toUnitRecord(evt progress.Event) store.UnitRecord {
	return store.UnitRecord{
		RunID:           evt.RunUUID(),
		UnitID:          evt.Unit,
		District:        evt.District,
		Taluka:          evt.Taluka,
		Village:         evt.Village,
		Success:         evt.Success,
		ErrorClass:      evt.ErrorClass,
		CaptchaAttempts: evt.CaptchaAttempts,
		ArtifactID:      evt.ArtifactID,
		Duration:        evt.Dur,
		FinishedAt:      evt.TS,
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
