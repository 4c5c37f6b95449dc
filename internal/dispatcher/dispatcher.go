// Package dispatcher builds the session worker pool and fans the shared
// queue out to it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
	"github.com/JakeFAU/landrecord-scraper/internal/worker"
)

// WorkerFactory builds the worker that will own session. index is unique
// within the pool.
type WorkerFactory func(index int, session scraper.Session) *worker.Worker

// Config sizes the pool.
type Config struct {
	NumContexts    int
	TabsPerContext int
}

// Size is the number of sessions the pool opens.
func (c Config) Size() int {
	return c.NumContexts * c.TabsPerContext
}

// Dispatcher owns the sessions and workers of one run.
type Dispatcher struct {
	sessions scraper.SessionFactory
	build    WorkerFactory
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	opened  []scraper.Session
	workers []*worker.Worker
	started bool
	wg      sync.WaitGroup
}

// New creates a Dispatcher.
func New(sessions scraper.SessionFactory, build WorkerFactory, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sessions: sessions,
		build:    build,
		cfg:      cfg,
		logger:   logger.Named("dispatcher"),
	}
}

// Start opens NumContexts × TabsPerContext sessions in parallel and starts
// one worker per session that could be opened. It fails only when no
// session could be opened at all.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}
	size := d.cfg.Size()
	if size <= 0 {
		return fmt.Errorf("pool size must be > 0, got %d", size)
	}
	if d.cfg.TabsPerContext <= 0 {
		return fmt.Errorf("tabs per context must be > 0, got %d", d.cfg.TabsPerContext)
	}

	sessions := make([]scraper.Session, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctxIdx, tabIdx := i/d.cfg.TabsPerContext, i%d.cfg.TabsPerContext
			s, err := d.sessions.NewSession(ctx, ctxIdx, tabIdx)
			if err != nil {
				errs[i] = fmt.Errorf("session %d (context %d, tab %d): %w", i, ctxIdx, tabIdx, err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i, s := range sessions {
		if s == nil {
			d.logger.Warn("session unavailable", zap.Int("index", i), zap.Error(errs[i]))
			continue
		}
		d.opened = append(d.opened, s)
		d.workers = append(d.workers, d.build(i, s))
	}
	if len(d.workers) == 0 {
		return fmt.Errorf("%w: %w", scraper.ErrNoSessions, errors.Join(errs...))
	}
	d.started = true

	for _, w := range d.workers {
		d.wg.Add(1)
		go func(w *worker.Worker) {
			defer d.wg.Done()
			w.Run(ctx)
		}(w)
	}
	d.logger.Info("worker pool started", zap.Int("workers", len(d.workers)), zap.Int("requested", size))
	return nil
}

// Wait blocks until every worker has reached Closed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run starts the pool and waits for it to drain the queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	d.Wait()
	return nil
}

// Workers returns the started workers.
func (d *Dispatcher) Workers() []*worker.Worker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*worker.Worker(nil), d.workers...)
}

// CloseAll closes every opened session, whatever state its worker ended
// in, and joins the close errors. It gives up waiting when ctx ends.
func (d *Dispatcher) CloseAll(ctx context.Context) error {
	d.mu.Lock()
	sessions := d.opened
	d.opened = nil
	d.mu.Unlock()

	errs := make([]error, len(sessions))
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i, s := range sessions {
			wg.Add(1)
			go func(i int, s scraper.Session) {
				defer wg.Done()
				if err := s.Close(); err != nil {
					errs[i] = fmt.Errorf("close session %d: %w", i, err)
				}
			}(i, s)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return fmt.Errorf("close sessions: %w", ctx.Err())
	}
}
