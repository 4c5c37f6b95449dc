package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the scrape_runs status column.
type RunStatus string

// Run statuses persisted in scrape_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunPartial  RunStatus = "partial"
	RunCanceled RunStatus = "canceled"
	RunError    RunStatus = "error"
)

// ParseRunStatus accepts the persisted names plus a few aliases.
func ParseRunStatus(input string) (RunStatus, error) {
	switch input {
	case "running":
		return RunRunning, nil
	case "success", "succeeded":
		return RunSuccess, nil
	case "partial":
		return RunPartial, nil
	case "canceled", "cancelled":
		return RunCanceled, nil
	case "error", "failed", "failure":
		return RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

// Run models one row of scrape_runs.
type Run struct {
	ID       uuid.UUID
	District string
	Taluka   string
	// Total is the number of units in the expanded scope.
	Total      int64
	Successful int64
	Failed     int64
	StartedAt  time.Time
	// FinishedAt is nil until the run completes.
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
}

// UnitRecord models one row of unit_results.
type UnitRecord struct {
	RunID           uuid.UUID
	UnitID          string
	District        string
	Taluka          string
	Village         string
	Success         bool
	ErrorClass      string
	CaptchaAttempts int
	ArtifactID      string
	Duration        time.Duration
	FinishedAt      time.Time
}

// RunRepository persists run progress.
type RunRepository interface {
	// StartRun inserts the run header (idempotent on id).
	StartRun(ctx context.Context, run Run) error
	// RecordUnits appends unit outcomes and bumps the run counters.
	RecordUnits(ctx context.Context, runID uuid.UUID, units []UnitRecord) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListUnits returns unit outcomes for one run, optionally failures only.
	ListUnits(ctx context.Context, runID uuid.UUID, failedOnly bool, limit, offset int) ([]UnitRecord, error)
}
