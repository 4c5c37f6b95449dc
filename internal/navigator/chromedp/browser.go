// Package chromedp drives the land-record form in headless Chrome.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

const defaultStableDelay = 750 * time.Millisecond

// Config controls the browser and how sessions drive the form.
type Config struct {
	Headless bool   `mapstructure:"headless"`
	ExecPath string `mapstructure:"exec_path"`
	// UserAgent overrides the browser user agent when set.
	UserAgent string `mapstructure:"user_agent"`
	// StableDelay is the settle time after a postback before the document
	// readiness poll starts.
	StableDelay time.Duration `mapstructure:"stable_delay"`
	NoSandbox   bool          `mapstructure:"no_sandbox"`
	Selectors   Selectors     `mapstructure:"selectors"`
}

// DefaultConfig runs headless with the default selectors.
func DefaultConfig() Config {
	return Config{
		Headless:    true,
		StableDelay: defaultStableDelay,
		Selectors:   DefaultSelectors(),
	}
}

func (c Config) withDefaults() Config {
	if c.StableDelay <= 0 {
		c.StableDelay = defaultStableDelay
	}
	c.Selectors = c.Selectors.withDefaults()
	return c
}

// allocatorOptions builds the exec allocator flags for cfg.
func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// browserContext is one isolated cookie/storage identity. The anchor target
// keeps it alive while its tabs come and go.
type browserContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	open   int
}

// Browser implements scraper.SessionFactory. It owns one Chrome process;
// each context index maps to an isolated browser context and each session
// is a tab inside it.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	closed   bool
	contexts map[int]*browserContext
}

// NewBrowser prepares the allocator. Chrome starts on the first session.
func NewBrowser(cfg Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	return &Browser{
		cfg:           cfg,
		logger:        logger.Named("browser"),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		contexts:      make(map[int]*browserContext),
	}
}

// NewSession opens a tab in the browser context for contextIndex.
func (b *Browser) NewSession(ctx context.Context, contextIndex, tabIndex int) (scraper.Session, error) {
	bc, err := b.acquire(ctx, contextIndex)
	if err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(bc.ctx)
	s := &Session{
		ctx:    tabCtx,
		cancel: tabCancel,
		cfg:    b.cfg,
		logger: b.logger.With(zap.Int("context", contextIndex), zap.Int("tab", tabIndex)),
		release: func() {
			b.release(contextIndex, bc)
		},
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)
	if err := firstRun(ctx, tabCtx, setupAction(b.cfg.UserAgent)); err != nil {
		_ = s.Close()
		return nil, scraper.NewNavError(scraper.NavNetwork, "open tab", "", err)
	}
	return s, nil
}

func (b *Browser) acquire(ctx context.Context, contextIndex int) (*browserContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser is closed")
	}
	if !b.started {
		if err := firstRun(ctx, b.browserCtx); err != nil {
			return nil, scraper.NewNavError(scraper.NavNetwork, "start browser", "", err)
		}
		b.started = true
	}
	bc, ok := b.contexts[contextIndex]
	if !ok {
		cctx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
		if err := firstRun(ctx, cctx); err != nil {
			cancel()
			return nil, scraper.NewNavError(scraper.NavNetwork, "create browser context", fmt.Sprint(contextIndex), err)
		}
		bc = &browserContext{ctx: cctx, cancel: cancel}
		b.contexts[contextIndex] = bc
		b.logger.Debug("browser context created", zap.Int("context", contextIndex))
	}
	bc.open++
	return bc, nil
}

// release disposes a browser context once its last tab closes, so the next
// run starts from a clean identity.
func (b *Browser) release(contextIndex int, bc *browserContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bc.open--
	if bc.open > 0 {
		return
	}
	if b.contexts[contextIndex] == bc {
		delete(b.contexts, contextIndex)
	}
	bc.cancel()
	b.logger.Debug("browser context disposed", zap.Int("context", contextIndex))
}

// Close shuts the browser down. Sessions still open become unusable.
func (b *Browser) Close() {
	b.mu.Lock()
	b.closed = true
	for idx, bc := range b.contexts {
		bc.cancel()
		delete(b.contexts, idx)
	}
	b.mu.Unlock()
	b.browserCancel()
	b.allocCancel()
}

// firstRun allocates target. The first Run on a chromedp context owns the
// target's lifetime, so it must not carry the caller's deadline.
func firstRun(ctx, target context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(target, actions...)
}

// boundTo derives a context from target that also ends when ctx does.
// Cancelling it aborts the pending action without closing the target.
func boundTo(ctx, target context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(target)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
