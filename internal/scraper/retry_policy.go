package scraper

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// ExponentialBackoff computes jittered delays for navigation and setup retries.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (zero-based).
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Sleep waits for Delay(attempt) or until ctx ends.
func (b ExponentialBackoff) Sleep(ctx context.Context, attempt int) error {
	d := b.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retryable reports whether a navigator error is worth another attempt.
// Cancellation never is, and neither is a value missing from its dropdown.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !IsNavKind(err, NavNoOption)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
