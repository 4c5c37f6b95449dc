package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/metrics"
)

// Config controls buffering and batching for the Hub.
type Config struct {
	// BufferSize bounds queued events; unit events beyond it are dropped.
	BufferSize int
	// MaxBatchEvents flushes a batch once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait is the longest an event waits in a batch, measured from
	// the first event of that batch.
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	BaseContext  context.Context
	Logger       *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 128
	defaultMaxBatchWait   = time.Second
	defaultSinkTimeout    = 10 * time.Second
)

// Hub batches run and unit events and hands them to sinks from a single
// goroutine, in emission order.
//
// Unit events are lossy: a full buffer drops them so session workers never
// wait on a slow sink. Run boundaries (start, done, error) are not; Emit
// waits for buffer space instead. A done or error event flushes its batch at
// once, so the run store records the completion as soon as the run ends.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped   atomic.Int64
	dropMu    sync.Mutex
	runDrops  map[[16]byte]int64
	closing   atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.Logger,
		runDrops: make(map[[16]byte]int64),
	}
	go h.run()
	return h
}

// Emit queues evt. Invalid events are discarded. Unit events are dropped
// when the buffer is full; run boundary events block until there is room or
// the hub closes.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event",
			zap.String("stage", string(evt.Stage)),
			zap.Error(err),
		)
		return
	}
	if evt.Stage.RunBoundary() {
		select {
		case h.events <- evt:
		case <-h.stop:
		}
		return
	}
	select {
	case h.events <- evt:
	default:
		h.drop(evt)
	}
}

// Dropped is the number of unit events discarded since the hub started.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) drop(evt Event) {
	h.dropped.Add(1)
	metrics.ObserveProgressDropped(string(evt.Stage))
	h.dropMu.Lock()
	h.runDrops[evt.RunID]++
	h.dropMu.Unlock()
}

// Close delivers every queued event, closes the sinks and waits for the
// delivery goroutine to exit or ctx to end. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	var (
		timer    *time.Timer
		deadline <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, deadline = nil, nil
		}
		h.deliver(batch)
		batch = batch[:0]
	}

	for {
		select {
		case evt := <-h.events:
			if len(batch) == 0 {
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
			batch = append(batch, evt)
			if evt.Stage.EndsRun() || len(batch) >= h.cfg.MaxBatchEvents {
				flush()
			}
		case <-deadline:
			timer, deadline = nil, nil
			flush()
		case <-h.stop:
		drain:
			for {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
					if len(batch) >= h.cfg.MaxBatchEvents {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, out)
		cancel()
		if err != nil {
			name := fmt.Sprintf("%T", sink)
			metrics.ObserveProgressSinkError(name)
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", name),
				zap.Int("batch", len(out)),
				zap.Error(err),
			)
		}
	}
	for _, evt := range out {
		if evt.Stage.EndsRun() {
			h.settleDrops(evt)
		}
	}
}

// settleDrops reports how many unit events of a finished run never reached
// the sinks and forgets the run.
func (h *Hub) settleDrops(evt Event) {
	h.dropMu.Lock()
	n := h.runDrops[evt.RunID]
	delete(h.runDrops, evt.RunID)
	h.dropMu.Unlock()
	if n > 0 {
		h.logger.Warn("run finished with dropped progress events",
			zap.String("run_id", evt.RunUUID().String()),
			zap.Int64("dropped", n),
		)
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
