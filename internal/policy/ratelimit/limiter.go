// Package ratelimit implements the sliding-window limiter that gates captcha
// solving calls across every session worker.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/landrecord-scraper/internal/metrics"
)

const defaultWindow = time.Minute

// Config holds rate limiter configuration.
type Config struct {
	// Limit is the maximum number of grants inside any Window.
	Limit int
	// Window defaults to one minute.
	Window time.Duration
	// MinInterval optionally spaces consecutive grants. It never allows more
	// than Limit grants per Window.
	MinInterval time.Duration
}

// Limiter enforces Limit grants per trailing Window. It is safe for
// concurrent use; callers never hold its lock while waiting.
type Limiter struct {
	mu     sync.Mutex
	grants []time.Time
	limit  int
	window time.Duration

	smoother *rate.Limiter
	now      func() time.Time
	// onGrant observes grant timestamps under the lock.
	onGrant func(time.Time)
}

// New creates a new Limiter. A non-positive Limit is treated as 1.
func New(cfg Config) *Limiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 1
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	l := &Limiter{
		grants: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	if cfg.MinInterval > 0 {
		l.smoother = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return l
}

// Acquire blocks until a slot is free, records the grant and returns. It
// returns an error wrapping ctx.Err() if ctx ends first.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	start := time.Now()
	if l.smoother != nil {
		if err := l.smoother.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	for {
		wait, ok := l.tryAcquire()
		if ok {
			metrics.ObserveCaptchaWait(time.Since(start))
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// tryAcquire prunes expired grants and records a new one if there is room.
// Otherwise it returns how long until the oldest grant leaves the window.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)
	if len(l.grants) < l.limit {
		l.grants = append(l.grants, now)
		if l.onGrant != nil {
			l.onGrant(now)
		}
		return 0, true
	}
	wait := l.grants[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *Limiter) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(l.grants) && now.Sub(l.grants[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.grants = append(l.grants[:0], l.grants[cut:]...)
	}
}

// InWindow returns the number of grants currently inside the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return len(l.grants)
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int {
	return l.limit
}
