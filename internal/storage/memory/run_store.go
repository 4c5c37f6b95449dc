package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/landrecord-scraper/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development/testing.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]store.Run
	units map[uuid.UUID][]store.UnitRecord
	seen  map[uuid.UUID]map[string]struct{}
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[uuid.UUID]store.Run),
		units: make(map[uuid.UUID][]store.UnitRecord),
		seen:  make(map[uuid.UUID]map[string]struct{}),
	}
}

// StartRun stores the run header; repeated starts are ignored.
func (s *RunStore) StartRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return nil
	}
	if run.Status == "" {
		run.Status = store.RunRunning
	}
	s.runs[run.ID] = run
	s.seen[run.ID] = make(map[string]struct{})
	return nil
}

// RecordUnits appends unit rows and bumps the run counters.
func (s *RunStore) RecordUnits(_ context.Context, runID uuid.UUID, units []store.UnitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	seen := s.seen[runID]
	for _, u := range units {
		if _, dup := seen[u.UnitID]; dup {
			continue
		}
		seen[u.UnitID] = struct{}{}
		u.RunID = runID
		s.units[runID] = append(s.units[runID], u)
		if u.Success {
			run.Successful++
		} else {
			run.Failed++
		}
	}
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, limit, offset), nil
}

// ListUnits returns a copy of the unit rows for a run.
func (s *RunStore) ListUnits(
	_ context.Context,
	runID uuid.UUID,
	failedOnly bool,
	limit,
	offset int,
) ([]store.UnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.UnitRecord
	for _, u := range s.units[runID] {
		if failedOnly && u.Success {
			continue
		}
		out = append(out, u)
	}
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return append([]T(nil), items...)
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
