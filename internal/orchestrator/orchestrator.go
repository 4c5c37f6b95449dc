// Package orchestrator expands a scope into work units, runs the session
// pool over them and assembles the run report.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/dispatcher"
	"github.com/JakeFAU/landrecord-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/landrecord-scraper/internal/progress"
	"github.com/JakeFAU/landrecord-scraper/internal/queue/memory"
	"github.com/JakeFAU/landrecord-scraper/internal/report"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
	"github.com/JakeFAU/landrecord-scraper/internal/worker"
)

// EventRunCompleted is the event type published when a run finishes. It is
// also the topic used when none is configured.
const EventRunCompleted = "run.completed"

// ErrRunNotFound is returned when no live run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// RunIDGenerator mints run identifiers.
type RunIDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Dependencies are the collaborators shared by every run. Reference,
// Sessions, Solver and Extractor are required.
type Dependencies struct {
	Reference scraper.ReferenceData
	Sessions  scraper.SessionFactory
	Solver    scraper.CaptchaSolver
	Extractor scraper.ResultExtractor
	Artifacts scraper.ArtifactStore
	// Limiter is shared across runs so concurrent runs still respect the
	// solver quota. A nil Limiter gets a per-run limiter from Config.
	Limiter   scraper.Limiter
	Events    progress.Emitter
	Reports   scraper.BlobStore
	Publisher scraper.Publisher
	Clock     scraper.Clock
	IDs       RunIDGenerator
}

// Orchestrator starts runs and keeps a registry of them.
type Orchestrator struct {
	cfg    scraper.Config
	deps   Dependencies
	logger *zap.Logger

	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
	// finished holds retained finished runs, oldest first.
	finished []uuid.UUID
}

// New constructs an Orchestrator.
func New(cfg scraper.Config, deps Dependencies, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Reference == nil {
		return nil, fmt.Errorf("reference data is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if deps.Solver == nil {
		return nil, fmt.Errorf("captcha solver is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("result extractor is required")
	}
	if cfg.Workers() <= 0 {
		return nil, fmt.Errorf("pool size must be > 0, got %d", cfg.Workers())
	}
	if cfg.RetainRuns <= 0 {
		cfg.RetainRuns = scraper.DefaultConfig().RetainRuns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("orchestrator"),
		runs:   make(map[uuid.UUID]*Run),
	}, nil
}

// Expand turns scope into the ordered list of village units. An empty
// taluka covers every taluka of the district.
func Expand(ctx context.Context, ref scraper.ReferenceData, scope scraper.Scope) ([]scraper.WorkUnit, error) {
	if scope.District == "" {
		return nil, fmt.Errorf("district is required")
	}
	district, err := ref.District(ctx, scope.District)
	if err != nil {
		return nil, fmt.Errorf("district %s: %w", scope.District, err)
	}
	talukas, err := ref.ListTalukas(ctx, district.Code)
	if err != nil {
		return nil, fmt.Errorf("list talukas of %s: %w", district.Code, err)
	}
	if scope.Taluka != "" {
		var match []scraper.Taluka
		for _, t := range talukas {
			if t.Code == scope.Taluka {
				match = append(match, t)
				break
			}
		}
		if len(match) == 0 {
			return nil, fmt.Errorf("taluka %s in district %s: %w", scope.Taluka, district.Code, scraper.ErrNotFound)
		}
		talukas = match
	}

	var units []scraper.WorkUnit
	for _, t := range talukas {
		villages, err := ref.ListVillages(ctx, district.Code, t.Code)
		if err != nil {
			return nil, fmt.Errorf("list villages of %s/%s: %w", district.Code, t.Code, err)
		}
		for _, v := range villages {
			units = append(units, scraper.WorkUnit{
				DistrictCode: district.Code,
				DistrictName: district.Name,
				TalukaCode:   t.Code,
				TalukaName:   t.Name,
				VillageCode:  v.Code,
				VillageName:  v.Name,
				SurveyFilter: scope.SurveyFilter,
			})
			if scope.MaxUnits > 0 && len(units) == scope.MaxUnits {
				return units, nil
			}
		}
	}
	return units, nil
}

// Run executes scope to completion and returns its report.
func (o *Orchestrator) Run(ctx context.Context, scope scraper.Scope) (*report.Report, error) {
	run, err := o.Start(ctx, scope)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

// Start expands scope, seeds the queue and starts the worker pool. The run
// lives until its units are done or ctx ends; Cancel stops it early. Start
// fails only when the scope is invalid or no session can be opened.
func (o *Orchestrator) Start(ctx context.Context, scope scraper.Scope) (*Run, error) {
	if scope.MaxUnits <= 0 && o.cfg.MaxUnits > 0 {
		scope.MaxUnits = o.cfg.MaxUnits
	}
	units, err := Expand(ctx, o.deps.Reference, scope)
	if err != nil {
		return nil, fmt.Errorf("expand scope: %w", err)
	}
	id, err := o.newRunID()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		id:        id,
		scope:     scope,
		units:     units,
		startedAt: o.now(),
		tracker:   progress.NewTracker(len(units)),
		queue:     memory.NewQueue(units),
		collector: newCollector(len(units)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	logger := o.logger.With(zap.String("run_id", id.String()))

	o.emit(progress.Event{
		RunID:    run.rawID(),
		TS:       run.startedAt,
		Stage:    progress.StageRunStart,
		Worker:   -1,
		District: scope.District,
		Taluka:   scope.Taluka,
		Total:    int64(len(units)),
	})
	logger.Info("run starting",
		zap.String("district", scope.District),
		zap.String("taluka", scope.Taluka),
		zap.Int("units", len(units)),
		zap.Int("workers", o.cfg.Workers()),
	)

	if len(units) > 0 {
		run.pool = dispatcher.New(o.deps.Sessions, o.workerFactory(run, logger), dispatcher.Config{
			NumContexts:    o.cfg.NumContexts,
			TabsPerContext: o.cfg.TabsPerContext,
		}, logger)
		if err := run.pool.Start(runCtx); err != nil {
			cancel()
			o.abort(ctx, run, err, logger)
			return nil, fmt.Errorf("start pool: %w", err)
		}
	}

	o.mu.Lock()
	o.runs[id] = run
	o.mu.Unlock()

	monitorCtx, stopMonitor := context.WithCancel(runCtx)
	go progress.Monitor(monitorCtx, run.rawID(), run.tracker, o.deps.Events, o.cfg.ProgressInterval, logger)
	go func() {
		if run.pool != nil {
			run.pool.Wait()
		}
		stopMonitor()
		o.finish(ctx, run, logger)
	}()
	return run, nil
}

// Get returns the run with id from the registry. Only the last RetainRuns
// finished runs are kept.
func (o *Orchestrator) Get(id uuid.UUID) (*Run, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	run, ok := o.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Runs lists registered runs, newest first.
func (o *Orchestrator) Runs() []*Run {
	o.mu.RLock()
	out := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		out = append(out, r)
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].startedAt.After(out[j].startedAt) })
	return out
}

// CancelAll cancels every run that is still in progress and waits for them
// to finish or ctx to end.
func (o *Orchestrator) CancelAll(ctx context.Context) error {
	var errs []error
	for _, r := range o.Runs() {
		r.Cancel()
		if _, err := r.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", r.id, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) workerFactory(run *Run, logger *zap.Logger) dispatcher.WorkerFactory {
	limiter := o.deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{
			Limit:       o.cfg.CaptchaRPM,
			Window:      o.cfg.CaptchaWindow,
			MinInterval: o.cfg.CaptchaMinInterval,
		})
	}
	return func(index int, session scraper.Session) *worker.Worker {
		return worker.New(index, run.rawID(), o.cfg, worker.Dependencies{
			Session:   session,
			Queue:     run.queue,
			Limiter:   limiter,
			Solver:    o.deps.Solver,
			Extractor: o.deps.Extractor,
			Artifacts: o.deps.Artifacts,
			Progress:  run.tracker,
			Results:   run.collector,
			Events:    o.deps.Events,
			Clock:     o.deps.Clock,
		}, logger)
	}
}

// finish accounts for never-pulled units, tears the pool down and
// publishes the report. It runs once per run after every worker closed.
func (o *Orchestrator) finish(parent context.Context, run *Run, logger *zap.Logger) {
	defer close(run.done)
	defer run.cancel()

	now := o.now()
	for _, unit := range run.queue.Drain() {
		run.collector.Collect(report.CanceledResult(unit, now))
	}

	// teardown and persistence must outlive the canceled run context
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.teardownTimeout())
	defer cancel()
	if run.pool != nil {
		if err := run.pool.CloseAll(ctx); err != nil {
			logger.Warn("closing sessions", zap.Error(err))
		}
	}

	finished := o.now()
	rep := report.Build(run.id.String(), run.scope, run.units, run.collector.results(), run.startedAt, finished)
	uri := o.persist(ctx, rep, logger)

	run.mu.Lock()
	run.report = rep
	run.reportURI = uri
	run.mu.Unlock()
	run.collector.reset()

	o.emit(progress.Event{
		RunID:  run.rawID(),
		TS:     finished,
		Stage:  progress.StageRunDone,
		Worker: -1,
		Status: rep.Status,
		Total:  int64(rep.Successful + rep.Failed),
		Dur:    finished.Sub(run.startedAt),
		Note:   uri,
	})
	o.publish(ctx, rep, uri, logger)

	if evicted := o.retire(run.id); evicted > 0 {
		logger.Debug("evicted finished runs", zap.Int("count", evicted))
	}

	logger.Info("run finished",
		zap.String("status", rep.Status),
		zap.Int("total", rep.Total),
		zap.Int("successful", rep.Successful),
		zap.Int("failed", rep.Failed),
		zap.Int("canceled", rep.Canceled),
		zap.Float64("per_minute", rep.PerMinute),
		zap.Duration("elapsed", finished.Sub(run.startedAt)),
	)
}

// retire queues a finished run for eviction and drops the oldest finished
// runs beyond RetainRuns. Live runs are never evicted.
func (o *Orchestrator) retire(id uuid.UUID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, id)
	excess := len(o.finished) - o.cfg.RetainRuns
	if excess <= 0 {
		return 0
	}
	for _, old := range o.finished[:excess] {
		delete(o.runs, old)
	}
	o.finished = append([]uuid.UUID(nil), o.finished[excess:]...)
	return excess
}

// abort records a run whose pool never started.
func (o *Orchestrator) abort(parent context.Context, run *Run, cause error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.teardownTimeout())
	defer cancel()
	if err := run.pool.CloseAll(ctx); err != nil {
		logger.Warn("closing sessions", zap.Error(err))
	}
	finished := o.now()
	o.emit(progress.Event{
		RunID:  run.rawID(),
		TS:     finished,
		Stage:  progress.StageRunError,
		Worker: -1,
		Dur:    finished.Sub(run.startedAt),
		Note:   cause.Error(),
	})
	rep := report.Failed(run.id.String(), run.scope, run.units, run.startedAt, finished, cause)
	uri := o.persist(ctx, rep, logger)
	o.publish(ctx, rep, uri, logger)
	logger.Error("run failed to start", zap.Error(cause))
}

// ReportPath is where the JSON report of runID is stored; the CSV sits
// next to it.
func ReportPath(prefix, runID, ext string) string {
	return path.Join(prefix, "reports", runID+"."+ext)
}

// persist writes the JSON and CSV reports and returns the JSON URI.
func (o *Orchestrator) persist(ctx context.Context, rep *report.Report, logger *zap.Logger) string {
	if o.deps.Reports == nil {
		return ""
	}
	var jsonBuf, csvBuf bytes.Buffer
	if err := report.WriteJSON(&jsonBuf, rep); err != nil {
		logger.Error("render report", zap.Error(err))
		return ""
	}
	uri, err := o.deps.Reports.PutObject(ctx, ReportPath(o.cfg.OutputPrefix, rep.RunID, "json"), "application/json", &jsonBuf)
	if err != nil {
		logger.Error("store report", zap.Error(err))
		return ""
	}
	if err := report.WriteCSV(&csvBuf, rep); err != nil {
		logger.Error("render csv report", zap.Error(err))
		return uri
	}
	if _, err := o.deps.Reports.PutObject(ctx, ReportPath(o.cfg.OutputPrefix, rep.RunID, "csv"), "text/csv", &csvBuf); err != nil {
		logger.Error("store csv report", zap.Error(err))
	}
	return uri
}

// Completion is the payload published when a run finishes.
type Completion struct {
	Type       string        `json:"type"`
	RunID      string        `json:"run_id"`
	Scope      scraper.Scope `json:"scope"`
	Status     string        `json:"status"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Canceled   int           `json:"canceled"`
	ReportURI  string        `json:"report_uri,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (o *Orchestrator) publish(ctx context.Context, rep *report.Report, uri string, logger *zap.Logger) {
	if o.deps.Publisher == nil {
		return
	}
	topic := o.cfg.Topic
	if topic == "" {
		topic = EventRunCompleted
	}
	id, err := o.deps.Publisher.Publish(ctx, topic, Completion{
		Type:       EventRunCompleted,
		RunID:      rep.RunID,
		Scope:      rep.Scope,
		Status:     rep.Status,
		Total:      rep.Total,
		Successful: rep.Successful,
		Failed:     rep.Failed,
		Canceled:   rep.Canceled,
		ReportURI:  uri,
		FinishedAt: rep.FinishedAt,
	})
	if err != nil {
		logger.Warn("publish run completion", zap.Error(err))
		return
	}
	logger.Debug("run completion published", zap.String("message_id", id))
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.deps.Events != nil {
		o.deps.Events.Emit(evt)
	}
}

func (o *Orchestrator) newRunID() (uuid.UUID, error) {
	if o.deps.IDs != nil {
		id, err := o.deps.IDs.NewRawID()
		if err != nil {
			return uuid.Nil, fmt.Errorf("run id: %w", err)
		}
		return id, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("run id: %w", err)
	}
	return id, nil
}

func (o *Orchestrator) now() time.Time {
	if o.deps.Clock != nil {
		return o.deps.Clock.Now()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) teardownTimeout() time.Duration {
	if o.cfg.NavigationTimeout > 0 {
		return o.cfg.NavigationTimeout
	}
	return 30 * time.Second
}
