package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/landrecord-scraper/internal/dispatcher"
	"github.com/JakeFAU/landrecord-scraper/internal/progress"
	"github.com/JakeFAU/landrecord-scraper/internal/queue/memory"
	"github.com/JakeFAU/landrecord-scraper/internal/report"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// Run is the handle of one started run.
type Run struct {
	id        uuid.UUID
	scope     scraper.Scope
	units     []scraper.WorkUnit
	startedAt time.Time

	tracker   *progress.Tracker
	queue     *memory.Queue
	collector *collector
	pool      *dispatcher.Dispatcher
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	report    *report.Report
	reportURI string
}

// ID returns the run identifier.
func (r *Run) ID() uuid.UUID {
	return r.id
}

// Scope returns the scope the run was started with, after defaults.
func (r *Run) Scope() scraper.Scope {
	return r.scope
}

// StartedAt returns when the run started.
func (r *Run) StartedAt() time.Time {
	return r.startedAt
}

// Progress returns a consistent snapshot of the run counters.
func (r *Run) Progress() progress.Snapshot {
	return r.tracker.Snapshot()
}

// Cancel stops the run. Units not yet finished are reported as canceled.
// Calling Cancel on a finished run is a no-op.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed once the report is available.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Finished reports whether the run has completed.
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the run finishes and returns its report. It returns
// early with ctx's error if ctx ends first; the run keeps going.
func (r *Run) Wait(ctx context.Context) (*report.Report, error) {
	select {
	case <-r.done:
		rep, _ := r.Report()
		return rep, nil
	case <-ctx.Done():
		select {
		case <-r.done:
			rep, _ := r.Report()
			return rep, nil
		default:
		}
		return nil, fmt.Errorf("wait for run %s: %w", r.id, ctx.Err())
	}
}

// Report returns the final report once the run is done.
func (r *Run) Report() (*report.Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.report != nil
}

// ReportURI is the stored JSON report location, empty when no report store
// is configured or the run is still going.
func (r *Run) ReportURI() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportURI
}

func (r *Run) rawID() [16]byte {
	return progress.UUIDToBytes(r.id)
}

// collector is the append-only result sink shared by the run's workers.
type collector struct {
	mu  sync.Mutex
	out []scraper.WorkResult
}

func newCollector(capacity int) *collector {
	return &collector{out: make([]scraper.WorkResult, 0, capacity)}
}

func (c *collector) Collect(res scraper.WorkResult) {
	c.mu.Lock()
	c.out = append(c.out, res)
	c.mu.Unlock()
}

// reset releases the collected results once the report owns them.
func (c *collector) reset() {
	c.mu.Lock()
	c.out = nil
	c.mu.Unlock()
}

func (c *collector) results() []scraper.WorkResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scraper.WorkResult(nil), c.out...)
}
