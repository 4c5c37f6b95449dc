package worker

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/metrics"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// Recovery tiers reported to metrics.
const (
	tierReuse = "reuse"
	tierSetup = "setup"
)

// setup drives the form from scratch to loc, retrying with backoff. On
// success the session is valid and positioned at loc.
func (w *Worker) setup(ctx context.Context, loc scraper.Location) error {
	ctx, span := w.tracer.Start(ctx, "worker.setup", trace.WithAttributes(
		attribute.String("location", loc.String()),
		attribute.Int("worker.index", w.index),
	))
	defer span.End()

	w.setState(StateSettingUp)
	w.session.Invalidate()
	w.onResultPage = false
	w.setups.Add(1)

	var lastErr error
	for attempt := 0; attempt < w.cfg.MaxSetupRetries; attempt++ {
		if attempt > 0 {
			if err := w.backoff.Sleep(ctx, attempt-1); err != nil {
				return fmt.Errorf("setup backoff: %w", err)
			}
		}
		err := w.setupOnce(ctx, loc)
		if err == nil {
			w.session.Location = loc
			w.session.Valid = true
			metrics.ObserveSessionReset(tierSetup, true)
			w.setState(StateReady)
			w.logger.Debug("session ready", zap.String("location", loc.String()), zap.Int("attempt", attempt+1))
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("setup %s: %w", loc, ctx.Err())
		}
		lastErr = err
		w.logger.Warn("session setup failed",
			zap.String("location", loc.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	metrics.ObserveSessionReset(tierSetup, false)
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "setup failed")
	return fmt.Errorf("%w: setup %s: %w", scraper.ErrSessionUnrecoverable, loc, lastErr)
}

func (w *Worker) setupOnce(ctx context.Context, loc scraper.Location) error {
	s := w.deps.Session
	err := w.step(ctx, w.cfg.NavigationTimeout, func(ctx context.Context) error {
		if err := s.Open(ctx, w.cfg.FormURL); err != nil {
			return fmt.Errorf("open form: %w", err)
		}
		if err := s.WaitStable(ctx); err != nil {
			return fmt.Errorf("wait form: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if w.cfg.RecordType != "" {
		if err := w.selectAndWait(ctx, scraper.FieldRecordType, w.cfg.RecordType); err != nil {
			return err
		}
	}
	if err := w.selectAndWait(ctx, scraper.FieldDistrict, loc.District); err != nil {
		return err
	}
	if err := w.selectAndWait(ctx, scraper.FieldTaluka, loc.Taluka); err != nil {
		return err
	}
	return w.verifySelection(ctx, loc)
}

// verifySelection confirms the form still shows loc.
func (w *Worker) verifySelection(ctx context.Context, loc scraper.Location) error {
	return w.step(ctx, 0, func(ctx context.Context) error {
		district, err := w.deps.Session.CurrentSelection(ctx, scraper.FieldDistrict)
		if err != nil {
			return fmt.Errorf("read district: %w", err)
		}
		taluka, err := w.deps.Session.CurrentSelection(ctx, scraper.FieldTaluka)
		if err != nil {
			return fmt.Errorf("read taluka: %w", err)
		}
		if district != loc.District || taluka != loc.Taluka {
			return fmt.Errorf("%w: want %s, form shows %s/%s", scraper.ErrSessionInvalid, loc, district, taluka)
		}
		return nil
	})
}

// reuseOnce navigates back to the form and checks that the district/taluka
// selection survived. A missing back link means the form is already shown.
func (w *Worker) reuseOnce(ctx context.Context, loc scraper.Location) error {
	err := w.step(ctx, w.cfg.NavigationTimeout, func(ctx context.Context) error {
		if err := w.deps.Session.ReturnToForm(ctx); err != nil && !scraper.IsNavKind(err, scraper.NavNotFound) {
			return fmt.Errorf("return to form: %w", err)
		}
		if err := w.deps.Session.WaitStable(ctx); err != nil {
			return fmt.Errorf("wait form: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return w.verifySelection(ctx, loc)
}

// recover restores the session to loc: reuse navigation first, a full
// setup when reuse is exhausted.
func (w *Worker) recover(ctx context.Context, loc scraper.Location) error {
	w.setState(StateRecovering)
	w.onResultPage = false

	var lastErr error
	for attempt := 0; attempt < w.cfg.MaxReuseRetries; attempt++ {
		if attempt > 0 {
			if err := w.backoff.Sleep(ctx, attempt-1); err != nil {
				return fmt.Errorf("reuse backoff: %w", err)
			}
		}
		err := w.reuseOnce(ctx, loc)
		if err == nil {
			w.reuses.Add(1)
			w.session.Location = loc
			w.session.Valid = true
			metrics.ObserveSessionReset(tierReuse, true)
			w.setState(StateReady)
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("reuse %s: %w", loc, ctx.Err())
		}
		lastErr = err
	}

	w.failedReuses.Add(1)
	metrics.ObserveSessionReset(tierReuse, false)
	w.session.Invalidate()
	if lastErr != nil {
		w.logger.Info("session reuse failed, running full setup",
			zap.String("location", loc.String()),
			zap.Error(lastErr),
		)
	}
	return w.setup(ctx, loc)
}

// returnToForm runs after a unit that left the browser on the result page.
// Failures only invalidate the session; the next unit performs setup.
func (w *Worker) returnToForm(ctx context.Context, loc scraper.Location) {
	if err := w.recover(ctx, loc); err != nil {
		w.session.Invalidate()
		if !errors.Is(err, context.Canceled) {
			w.logger.Warn("session could not be restored", zap.String("location", loc.String()), zap.Error(err))
		}
	}
}
