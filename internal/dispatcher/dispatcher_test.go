package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/progress"
	"github.com/JakeFAU/landrecord-scraper/internal/queue/memory"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
	"github.com/JakeFAU/landrecord-scraper/internal/worker"
)

type stubSession struct {
	scraper.Session // unused methods panic

	mu       sync.Mutex
	ctxIdx   int
	tabIdx   int
	closed   int
	closeErr error
	openErr  error
}

func (s *stubSession) Open(context.Context, string) error { return s.openErr }

func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

func (s *stubSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubFactory struct {
	mu       sync.Mutex
	sessions []*stubSession
	fail     func(ctxIdx, tabIdx int) bool
	closeErr error
	openErr  error
}

func (f *stubFactory) NewSession(_ context.Context, ctxIdx, tabIdx int) (scraper.Session, error) {
	if f.fail != nil && f.fail(ctxIdx, tabIdx) {
		return nil, errors.New("browser context unavailable")
	}
	s := &stubSession{ctxIdx: ctxIdx, tabIdx: tabIdx, closeErr: f.closeErr, openErr: f.openErr}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func buildWorkers(q scraper.Queue) WorkerFactory {
	cfg := scraper.DefaultConfig()
	cfg.RetryBackoffBase = 0
	cfg.MaxSetupRetries = 1
	return func(index int, s scraper.Session) *worker.Worker {
		return worker.New(index, progress.UUIDToBytes(uuid.New()), cfg, worker.Dependencies{
			Session: s,
			Queue:   q,
		}, zap.NewNop())
	}
}

// TestDispatcherSizesPool creates exactly contexts × tabs workers and closes them all.
func TestDispatcherSizesPool(t *testing.T) {
	t.Parallel()

	factory := &stubFactory{}
	d := New(factory, buildWorkers(memory.NewQueue(nil)), Config{NumContexts: 2, TabsPerContext: 3}, zap.NewNop())
	require.NoError(t, d.Run(context.Background()))

	workers := d.Workers()
	require.Len(t, workers, 6)
	seen := make(map[[2]int]bool)
	for _, s := range factory.sessions {
		seen[[2]int{s.ctxIdx, s.tabIdx}] = true
	}
	require.Len(t, seen, 6)
	for _, w := range workers {
		require.Equal(t, worker.StateClosed, w.State())
	}

	require.NoError(t, d.CloseAll(context.Background()))
	for _, s := range factory.sessions {
		require.Equal(t, 1, s.closeCount())
	}
}

// TestDispatcherClosesFailedWorkers tears down sessions whose workers ended in failure.
func TestDispatcherClosesFailedWorkers(t *testing.T) {
	t.Parallel()

	factory := &stubFactory{
		openErr:  scraper.NewNavError(scraper.NavNetwork, "open", "form", errors.New("refused")),
		closeErr: errors.New("target already gone"),
	}
	units := []scraper.WorkUnit{
		{DistrictCode: "02", TalukaCode: "04", VillageCode: "001"},
		{DistrictCode: "02", TalukaCode: "04", VillageCode: "002"},
		{DistrictCode: "02", TalukaCode: "04", VillageCode: "003"},
	}
	d := New(factory, buildWorkers(memory.NewQueue(units)), Config{NumContexts: 2, TabsPerContext: 2}, nil)
	require.NoError(t, d.Run(context.Background()))
	require.Len(t, d.Workers(), 4)

	err := d.CloseAll(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "target already gone")
	for _, s := range factory.sessions {
		require.Equal(t, 1, s.closeCount())
	}
}

// TestDispatcherDegradesOnPartialSessionFailure runs with whatever sessions opened.
func TestDispatcherDegradesOnPartialSessionFailure(t *testing.T) {
	t.Parallel()

	factory := &stubFactory{fail: func(ctxIdx, _ int) bool { return ctxIdx == 1 }}
	d := New(factory, buildWorkers(memory.NewQueue(nil)), Config{NumContexts: 2, TabsPerContext: 2}, nil)
	require.NoError(t, d.Run(context.Background()))
	require.Len(t, d.Workers(), 2)
}

// TestDispatcherFailsWithoutSessions is the only hard run failure.
func TestDispatcherFailsWithoutSessions(t *testing.T) {
	t.Parallel()

	factory := &stubFactory{fail: func(int, int) bool { return true }}
	d := New(factory, buildWorkers(memory.NewQueue(nil)), Config{NumContexts: 1, TabsPerContext: 2}, nil)
	err := d.Start(context.Background())
	require.ErrorIs(t, err, scraper.ErrNoSessions)
	require.NoError(t, d.CloseAll(context.Background()))
}

// TestDispatcherStopsOnCancel ensures workers reach Closed promptly after cancellation.
func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	units := make([]scraper.WorkUnit, 50)
	for i := range units {
		units[i] = scraper.WorkUnit{DistrictCode: "02", TalukaCode: "04", VillageCode: string(rune('a' + i%26))}
	}
	factory := &stubFactory{openErr: scraper.NewNavError(scraper.NavNetwork, "open", "form", errors.New("refused"))}
	q := memory.NewQueue(units)
	d := New(factory, buildWorkers(q), Config{NumContexts: 1, TabsPerContext: 2}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Start(ctx))

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after cancel")
	}
	require.Equal(t, 50, q.Remaining())
}

func TestDispatcherRejectsEmptyPool(t *testing.T) {
	t.Parallel()

	d := New(&stubFactory{}, buildWorkers(memory.NewQueue(nil)), Config{}, nil)
	require.Error(t, d.Start(context.Background()))
}
