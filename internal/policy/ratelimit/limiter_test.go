package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_GrantsImmediatelyBelowCeiling(t *testing.T) {
	t.Parallel()

	l := New(Config{Limit: 3, Window: time.Minute})
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 3, l.InWindow())
}

func TestLimiter_WaitsForOldestGrantToExpire(t *testing.T) {
	t.Parallel()

	l := New(Config{Limit: 1, Window: 100 * time.Millisecond})
	require.NoError(t, l.Acquire(context.Background()))

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_SlidingWindowNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	const (
		ceiling = 8
		callers = 50
		window  = 100 * time.Millisecond
	)
	l := New(Config{Limit: ceiling, Window: window})

	var (
		mu     sync.Mutex
		grants []time.Time
	)
	l.onGrant = func(at time.Time) {
		mu.Lock()
		grants = append(grants, at)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, grants, callers)
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	for i := ceiling; i < len(grants); i++ {
		require.GreaterOrEqual(t, grants[i].Sub(grants[i-ceiling]), window,
			"grant %d falls inside the window of grant %d", i, i-ceiling)
	}
}

func TestLimiter_CancellationIsPrompt(t *testing.T) {
	t.Parallel()

	l := New(Config{Limit: 1, Window: time.Minute})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, 1, l.InWindow())
}

func TestLimiter_CanceledContextNeverGrants(t *testing.T) {
	t.Parallel()

	l := New(Config{Limit: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Acquire(ctx))
	require.Zero(t, l.InWindow())
}

func TestLimiter_MinIntervalSpacesGrants(t *testing.T) {
	t.Parallel()

	l := New(Config{Limit: 10, Window: time.Minute, MinInterval: 50 * time.Millisecond})
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestLimiter_Defaults(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.Equal(t, 1, l.Limit())
	require.Equal(t, time.Minute, l.window)
}
