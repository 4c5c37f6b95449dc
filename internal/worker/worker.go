// Package worker runs one browser session through the land-record form,
// unit after unit, reusing the selected district/taluka between units and
// recovering the session when a step fails.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/metrics"
	"github.com/JakeFAU/landrecord-scraper/internal/progress"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// State is the lifecycle position of a Worker.
type State int32

// Worker states.
const (
	StateIdle State = iota
	StateSettingUp
	StateReady
	StateProcessing
	StateRecovering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSettingUp:
		return "setting_up"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateRecovering:
		return "recovering"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dependencies are the collaborators a Worker drives. Session, Queue,
// Limiter, Solver and Extractor are required.
type Dependencies struct {
	Session   scraper.Session
	Queue     scraper.Queue
	Limiter   scraper.Limiter
	Solver    scraper.CaptchaSolver
	Extractor scraper.ResultExtractor
	Artifacts scraper.ArtifactStore
	Progress  scraper.ProgressRecorder
	Results   scraper.ResultSink
	Events    progress.Emitter
	Clock     scraper.Clock
}

// Stats counts session maintenance performed by a worker.
type Stats struct {
	Setups       int64
	Reuses       int64
	FailedReuses int64
	Units        int64
}

// Worker owns one session and processes units until the queue is empty or
// the context ends.
type Worker struct {
	index   int
	runID   [16]byte
	cfg     scraper.Config
	deps    Dependencies
	backoff scraper.ExponentialBackoff
	logger  *zap.Logger
	tracer  trace.Tracer

	state   atomic.Int32
	session scraper.SessionState
	// onResultPage is set after a successful submit; the next unit must
	// navigate back to the form first.
	onResultPage bool

	setups       atomic.Int64
	reuses       atomic.Int64
	failedReuses atomic.Int64
	units        atomic.Int64
}

// New constructs a Worker.
func New(index int, runID [16]byte, cfg scraper.Config, deps Dependencies, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCaptchaAttempts <= 0 {
		cfg.MaxCaptchaAttempts = 1
	}
	if cfg.MaxSetupRetries <= 0 {
		cfg.MaxSetupRetries = 1
	}
	if cfg.MaxUnitAttempts <= 0 {
		cfg.MaxUnitAttempts = 1
	}
	if cfg.MaxSurveyAttempts <= 0 {
		cfg.MaxSurveyAttempts = 1
	}
	if cfg.MinCaptchaLength < 1 {
		cfg.MinCaptchaLength = 1
	}
	return &Worker{
		index:   index,
		runID:   runID,
		cfg:     cfg,
		deps:    deps,
		backoff: scraper.ExponentialBackoff{Base: cfg.RetryBackoffBase, Max: cfg.RetryBackoffMax},
		logger:  logger.Named("worker").With(zap.Int("worker", index)),
		tracer:  otel.Tracer("github.com/JakeFAU/landrecord-scraper/internal/worker"),
	}
}

// Index returns the worker's position in the pool.
func (w *Worker) Index() int {
	return w.index
}

// State returns the current lifecycle state. Safe for concurrent use.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Stats returns the session maintenance counters. Safe for concurrent use.
func (w *Worker) Stats() Stats {
	return Stats{
		Setups:       w.setups.Load(),
		Reuses:       w.reuses.Load(),
		FailedReuses: w.failedReuses.Load(),
		Units:        w.units.Load(),
	}
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run pulls units until the queue is empty or ctx ends. Unit failures are
// reported as results and never stop the loop.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer w.setState(StateClosed)

	for {
		if ctx.Err() != nil {
			w.logger.Debug("worker stopping", zap.Error(ctx.Err()))
			return
		}
		unit, ok := w.deps.Queue.Next()
		if !ok {
			w.logger.Debug("queue empty")
			return
		}
		result := w.process(ctx, unit)
		w.report(result)

		if w.onResultPage && ctx.Err() == nil {
			w.returnToForm(ctx, unit.Location())
		}
		if w.session.Valid {
			w.setState(StateReady)
		}
	}
}

func (w *Worker) now() time.Time {
	if w.deps.Clock != nil {
		return w.deps.Clock.Now()
	}
	return time.Now().UTC()
}

// process runs one unit through setup, scraping and mid-unit recovery and
// always yields a result.
func (w *Worker) process(ctx context.Context, unit scraper.WorkUnit) scraper.WorkResult {
	ctx, span := w.tracer.Start(ctx, "worker.unit", trace.WithAttributes(
		attribute.String("unit.id", unit.ID()),
		attribute.Int("worker.index", w.index),
	))
	defer span.End()

	start := time.Now()
	loc := unit.Location()
	res := scraper.WorkResult{Unit: unit, Worker: w.index}
	logger := w.logger.With(zap.String("unit", unit.ID()))

	var err error
	for attempt := 1; ; attempt++ {
		if err = ctx.Err(); err != nil {
			break
		}
		if !w.session.Matches(loc) {
			if err = w.setup(ctx, loc); err != nil {
				break
			}
		}

		w.setState(StateProcessing)
		err = w.scrapeUnit(ctx, unit, &res)
		if err == nil || !w.recoverable(ctx, err) {
			break
		}

		logger.Warn("unit step failed, recovering session",
			zap.Int("attempt", attempt),
			zap.String("class", string(scraper.Classify(err))),
			zap.Error(err),
		)
		if rerr := w.recover(ctx, loc); rerr != nil {
			err = errors.Join(err, rerr)
			break
		}
		if attempt >= w.cfg.MaxUnitAttempts {
			break
		}
	}

	res.Elapsed = time.Since(start)
	res.FinishedAt = w.now()
	if err != nil {
		res.Success = false
		res.ErrorClass = scraper.Classify(err)
		if ctx.Err() != nil && !errors.Is(err, scraper.ErrStorage) {
			res.ErrorClass = scraper.ClassCanceled
		}
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.ErrorClass))
	}
	span.SetAttributes(
		attribute.Bool("unit.success", res.Success),
		attribute.Int("unit.captcha_attempts", res.CaptchaAttempts),
	)
	return res
}

// recoverable reports whether err should trigger session recovery and a
// retry of the unit. Captcha exhaustion, storage failures and cancellation
// leave the session as it is.
func (w *Worker) recoverable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, scraper.ErrCaptchaExhausted),
		errors.Is(err, scraper.ErrStorage),
		errors.Is(err, scraper.ErrRateLimitTimeout),
		errors.Is(err, scraper.ErrSessionUnrecoverable):
		return false
	default:
		return scraper.Retryable(err)
	}
}

func (w *Worker) report(res scraper.WorkResult) {
	w.units.Add(1)
	canceled := res.Canceled()
	if !canceled && w.deps.Progress != nil {
		w.deps.Progress.Record(res.Success)
	}
	if w.deps.Results != nil {
		w.deps.Results.Collect(res)
	}
	if !canceled && w.deps.Events != nil {
		w.deps.Events.Emit(progress.Event{
			RunID:           w.runID,
			TS:              res.FinishedAt,
			Stage:           progress.StageUnitDone,
			Worker:          w.index,
			Unit:            res.Unit.ID(),
			District:        res.Unit.DistrictCode,
			Taluka:          res.Unit.TalukaCode,
			Village:         res.Unit.VillageCode,
			Success:         res.Success,
			ErrorClass:      string(res.ErrorClass),
			CaptchaAttempts: res.CaptchaAttempts,
			ArtifactID:      res.ArtifactID,
			Dur:             res.Elapsed,
		})
	}

	fields := []zap.Field{
		zap.String("unit", res.Unit.ID()),
		zap.String("village", res.Unit.VillageName),
		zap.Bool("success", res.Success),
		zap.Int("captcha_attempts", res.CaptchaAttempts),
		zap.Int("records", res.Records),
		zap.Duration("elapsed", res.Elapsed),
	}
	if res.Success {
		w.logger.Info("unit done", fields...)
		return
	}
	fields = append(fields, zap.String("class", string(res.ErrorClass)), zap.String("error", res.Error))
	w.logger.Warn("unit failed", fields...)
}

// step bounds fn by timeout, falling back to the configured step timeout.
func (w *Worker) step(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		timeout = w.cfg.StepTimeout
	}
	if timeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}

func (w *Worker) selectAndWait(ctx context.Context, field scraper.Field, value string) error {
	return w.step(ctx, 0, func(ctx context.Context) error {
		if err := w.deps.Session.Select(ctx, field, value); err != nil {
			return fmt.Errorf("select %s: %w", field, err)
		}
		if err := w.deps.Session.WaitStable(ctx); err != nil {
			return fmt.Errorf("wait after %s: %w", field, err)
		}
		return nil
	})
}
