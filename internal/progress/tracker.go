package progress

import (
	"sync"
	"time"
)

// Snapshot is a consistent point-in-time read of a Tracker.
type Snapshot struct {
	Total      int64         `json:"total"`
	Processed  int64         `json:"processed"`
	Successful int64         `json:"successful"`
	Failed     int64         `json:"failed"`
	Percentage float64       `json:"percentage"`
	PerMinute  float64       `json:"per_minute"`
	ETA        time.Duration `json:"eta"`
	Elapsed    time.Duration `json:"elapsed"`
	TakenAt    time.Time     `json:"taken_at"`
}

// Remaining is the number of units not yet recorded.
func (s Snapshot) Remaining() int64 {
	return s.Total - s.Processed
}

// Tracker holds the run counters. Record and Snapshot share one short
// critical section so a snapshot never interleaves with an increment.
type Tracker struct {
	mu         sync.Mutex
	total      int64
	processed  int64
	successful int64
	failed     int64
	started    time.Time
	now        func() time.Time
}

// NewTracker creates a tracker for total units, starting the throughput clock now.
func NewTracker(total int) *Tracker {
	return newTrackerWithClock(total, time.Now)
}

func newTrackerWithClock(total int, now func() time.Time) *Tracker {
	if total < 0 {
		total = 0
	}
	return &Tracker{total: int64(total), started: now(), now: now}
}

// Record counts one finished unit. Records beyond total are ignored so that
// processed never exceeds total.
func (t *Tracker) Record(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processed >= t.total {
		return
	}
	t.processed++
	if success {
		t.successful++
	} else {
		t.failed++
	}
}

// Snapshot returns the counters read together plus derived rates.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	snap := Snapshot{
		Total:      t.total,
		Processed:  t.processed,
		Successful: t.successful,
		Failed:     t.failed,
	}
	started := t.started
	t.mu.Unlock()

	now := t.now()
	snap.TakenAt = now
	snap.Elapsed = now.Sub(started)
	if snap.Total > 0 {
		snap.Percentage = float64(snap.Processed) / float64(snap.Total) * 100
	}
	if minutes := snap.Elapsed.Minutes(); minutes > 0 {
		snap.PerMinute = float64(snap.Processed) / minutes
	}
	if snap.PerMinute > 0 {
		remaining := float64(snap.Remaining())
		snap.ETA = time.Duration(remaining / snap.PerMinute * float64(time.Minute))
	}
	return snap
}
