package worker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/captcha"
	"github.com/JakeFAU/landrecord-scraper/internal/metrics"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

// scrapeUnit selects the village and survey and runs the captcha loop. A
// unit whose village offers no matching survey succeeds with zero records.
func (w *Worker) scrapeUnit(ctx context.Context, unit scraper.WorkUnit, res *scraper.WorkResult) error {
	if err := w.selectAndWait(ctx, scraper.FieldVillage, unit.VillageCode); err != nil {
		return err
	}

	var options []scraper.Option
	err := w.step(ctx, 0, func(ctx context.Context) error {
		var err error
		options, err = w.deps.Session.Options(ctx, scraper.FieldSurvey)
		if err != nil {
			return fmt.Errorf("list surveys: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	candidates := SurveyCandidates(options, unit.SurveyFilter, w.cfg.MaxSurveyAttempts)
	if len(candidates) == 0 {
		w.logger.Info("no matching survey",
			zap.String("unit", unit.ID()),
			zap.String("filter", unit.SurveyFilter),
			zap.Int("options", len(options)),
		)
		res.Success = true
		res.Records = 0
		return nil
	}

	var lastErr error
	for _, survey := range candidates {
		if err := w.selectAndWait(ctx, scraper.FieldSurvey, survey.Value); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
			w.logger.Debug("survey candidate rejected", zap.String("survey", survey.Text), zap.Error(err))
			continue
		}
		return w.solveAndSubmit(ctx, unit, survey, res)
	}
	return lastErr
}

// SurveyCandidates picks at most limit survey options to try. With a filter,
// options whose text contains it or whose value equals it qualify; without
// one, only the first option is used.
func SurveyCandidates(options []scraper.Option, filter string, limit int) []scraper.Option {
	if len(options) == 0 {
		return nil
	}
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return options[:1]
	}
	if limit <= 0 {
		limit = 1
	}
	out := make([]scraper.Option, 0, limit)
	for _, opt := range options {
		if opt.Value == filter || strings.Contains(opt.Text, filter) {
			out = append(out, opt)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// solveAndSubmit runs the captcha loop for the selected survey. Each attempt
// acquires one limiter slot; implausible or rejected answers refresh the
// challenge and count against MaxCaptchaAttempts.
func (w *Worker) solveAndSubmit(
	ctx context.Context,
	unit scraper.WorkUnit,
	survey scraper.Option,
	res *scraper.WorkResult,
) error {
	s := w.deps.Session
	for attempt := 1; attempt <= w.cfg.MaxCaptchaAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.deps.Limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("%w: %w", scraper.ErrRateLimitTimeout, err)
		}
		res.CaptchaAttempts++
		w.session.Attempts++

		var image []byte
		err := w.step(ctx, 0, func(ctx context.Context) error {
			var err error
			image, err = s.CaptureChallengeImage(ctx)
			if err != nil {
				return fmt.Errorf("capture captcha: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		text, err := w.deps.Solver.Solve(ctx, image)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.ObserveCaptchaSolve(metrics.SolveError)
			w.logger.Debug("captcha solve failed", zap.Int("attempt", attempt), zap.Error(err))
			w.refreshChallenge(ctx)
			continue
		}
		if !captcha.Plausible(text, w.cfg.MinCaptchaLength) {
			metrics.ObserveCaptchaSolve(metrics.SolveImplausible)
			w.logger.Debug("captcha answer implausible", zap.Int("attempt", attempt), zap.String("text", text))
			w.refreshChallenge(ctx)
			continue
		}

		var content string
		err = w.step(ctx, 0, func(ctx context.Context) error {
			if err := s.EnterCaptcha(ctx, text); err != nil {
				return fmt.Errorf("enter captcha: %w", err)
			}
			if err := s.Submit(ctx); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			if err := s.WaitStable(ctx); err != nil {
				return fmt.Errorf("wait result: %w", err)
			}
			var err error
			content, err = s.Content(ctx)
			if err != nil {
				return fmt.Errorf("read result: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		record, err := w.deps.Extractor.Extract(content)
		if err != nil {
			return fmt.Errorf("extract result: %w", err)
		}
		if record == nil {
			if f, ok := w.deps.Solver.(scraper.AnswerForgetter); ok {
				f.Forget(image)
			}
			metrics.ObserveCaptchaSolve(metrics.SolveRejected)
			w.logger.Debug("captcha answer rejected", zap.Int("attempt", attempt))
			w.refreshChallenge(ctx)
			continue
		}

		metrics.ObserveCaptchaSolve(metrics.SolveAccepted)
		w.onResultPage = true
		chosen := survey
		raw := scraper.RawRecord{Survey: survey, HTML: content, CapturedAt: w.now()}
		res.Success = true
		res.Records = 1
		res.Survey = &chosen
		res.Record = record
		if w.deps.Artifacts == nil {
			res.Raw = &raw
			return nil
		}
		id, err := w.deps.Artifacts.Save(ctx, unit, raw, record)
		if err != nil {
			res.Success = false
			return fmt.Errorf("%w: %w", scraper.ErrStorage, err)
		}
		res.ArtifactID = id
		return nil
	}
	return fmt.Errorf("%w after %d attempts", scraper.ErrCaptchaExhausted, w.cfg.MaxCaptchaAttempts)
}

func (w *Worker) refreshChallenge(ctx context.Context) {
	err := w.step(ctx, 0, func(ctx context.Context) error {
		if err := w.deps.Session.RefreshChallenge(ctx); err != nil {
			return err
		}
		return w.deps.Session.WaitStable(ctx)
	})
	if err != nil && ctx.Err() == nil {
		w.logger.Debug("captcha refresh failed", zap.Error(err))
	}
}
