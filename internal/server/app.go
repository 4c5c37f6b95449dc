// Package server provides the application container and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/api"
	"github.com/JakeFAU/landrecord-scraper/internal/artifact"
	"github.com/JakeFAU/landrecord-scraper/internal/captcha"
	"github.com/JakeFAU/landrecord-scraper/internal/clock/system"
	"github.com/JakeFAU/landrecord-scraper/internal/config"
	"github.com/JakeFAU/landrecord-scraper/internal/extract"
	"github.com/JakeFAU/landrecord-scraper/internal/hash/sha256"
	"github.com/JakeFAU/landrecord-scraper/internal/id/uuid"
	navigator "github.com/JakeFAU/landrecord-scraper/internal/navigator/chromedp"
	"github.com/JakeFAU/landrecord-scraper/internal/orchestrator"
	"github.com/JakeFAU/landrecord-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/landrecord-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/landrecord-scraper/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/landrecord-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/landrecord-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/landrecord-scraper/internal/refdata"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
	gcsstorage "github.com/JakeFAU/landrecord-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/landrecord-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/landrecord-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/landrecord-scraper/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/landrecord-scraper/internal/storage/sqlite"
	"github.com/JakeFAU/landrecord-scraper/internal/store"
	"github.com/JakeFAU/landrecord-scraper/internal/telemetry"
)

// Options overrides collaborators that are awkward to build in tests.
type Options struct {
	// Registerer receives the progress collectors; nil uses the default registry.
	Registerer prometheus.Registerer
	// Sessions replaces the Chrome-backed session factory when set.
	Sessions scraper.SessionFactory
	// Solver replaces the Gemini solver when set. It is still wrapped by the cache.
	Solver scraper.CaptchaSolver
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	reference    *refdata.Store
	blobs        scraper.BlobStore
	runs         store.RunRepository
	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server
	progressHub  *progress.Hub
	browser      *navigator.Browser

	storage        *storage.Client
	pgPool         *pgxpool.Pool
	sqlite         *sqlitestore.RunStore
	pubsubClient   *gpubsub.Client
	gcpPublisher   *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies from cfg. A failed Build
// releases whatever it had already opened.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	partial := &App{cfg: cfg, logger: logger}
	app = partial
	defer func() {
		if err != nil {
			partial.closeInfrastructure(context.WithoutCancel(ctx))
			partial.closeObservability(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building application dependencies",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("db", cfg.DB.Driver),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
		zap.Int("workers", cfg.RunConfig().Workers()),
	)

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.reference, err = refdata.Load(cfg.Reference.Path)
	if err != nil {
		return nil, fmt.Errorf("reference data init failed: %w", err)
	}
	logger.Info("reference data loaded",
		zap.String("path", cfg.Reference.Path),
		zap.Int("districts", len(app.reference.Districts())),
	)

	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	index, err := app.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, opts.Registerer); err != nil {
		return nil, err
	}
	solver, err := app.setupSolver(ctx, opts.Solver)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	clock := system.New()
	ids := uuid.New()
	artifacts, err := artifact.New(artifact.Options{
		Blobs:  app.blobs,
		Hasher: hasher,
		IDs:    ids,
		Clock:  clock,
		Index:  index,
		Prefix: cfg.Scraper.OutputPrefix,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store init failed: %w", err)
	}

	sessions := opts.Sessions
	if sessions == nil {
		app.browser = navigator.NewBrowser(cfg.Form.Browser, logger)
		sessions = app.browser
	}

	runCfg := cfg.RunConfig()
	limiter := ratelimit.New(ratelimit.Config{
		Limit:       runCfg.CaptchaRPM,
		Window:      runCfg.CaptchaWindow,
		MinInterval: runCfg.CaptchaMinInterval,
	})
	app.orchestrator, err = orchestrator.New(runCfg, orchestrator.Dependencies{
		Reference: app.reference,
		Sessions:  sessions,
		Solver:    solver,
		Extractor: extract.NewVF7(logger),
		Artifacts: artifacts,
		Limiter:   limiter,
		Events:    app.progressHub,
		Reports:   app.blobs,
		Publisher: publisher,
		Clock:     clock,
		IDs:       ids,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	apiOpts := api.Options{
		RequestTimeout: cfg.Server.WriteTimeout,
		Ready:          app.ready,
	}
	if cfg.Auth.Enabled {
		apiOpts.APIKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(
		api.FromOrchestrator(app.orchestrator),
		app.reference,
		app.runs,
		apiOpts,
		logger,
	)
	return app, nil
}

// Orchestrator returns the run orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Reference returns the loaded district catalog.
func (a *App) Reference() *refdata.Store {
	return a.reference
}

// Runs returns the run repository.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API and blocks until ctx is canceled or SIGINT/SIGTERM
// arrives, then cancels live runs and shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.orchestrator.CancelAll(shutdownCtx); err != nil {
		a.logger.Warn("cancel runs failed", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.storage, a.cfg.Storage.GCS)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		a.blobs, err = localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

// setupDatabase opens the run store and, for postgres with an artifact
// table, the artifact index.
func (a *App) setupDatabase(ctx context.Context) (artifact.Indexer, error) {
	switch a.cfg.DB.Driver {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres pool init failed: %w", err)
		}
		a.pgPool = pool
		runs, err := pgstore.NewRunStoreWithPool(pool)
		if err != nil {
			return nil, fmt.Errorf("run store init failed: %w", err)
		}
		if err := runs.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("run store migrate failed: %w", err)
		}
		a.runs = runs
		a.logger.Info("postgres run store initialized")
		if a.cfg.DB.ArtifactTable == "" {
			return nil, nil
		}
		index, err := pgstore.NewArtifactIndexWithPool(pool, a.cfg.DB.ArtifactTable)
		if err != nil {
			return nil, fmt.Errorf("artifact index init failed: %w", err)
		}
		a.logger.Info("artifact index enabled", zap.String("table", a.cfg.DB.ArtifactTable))
		return index, nil
	case "sqlite":
		runs, err := sqlitestore.Open(a.cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite run store init failed: %w", err)
		}
		a.sqlite = runs
		a.runs = runs
		a.logger.Info("sqlite run store initialized", zap.String("path", a.cfg.DB.DSN))
	default:
		a.logger.Info("using in-memory run store")
		a.runs = memorystorage.NewRunStore()
	}
	return nil, nil
}

func (a *App) setupPublisher(ctx context.Context) (scraper.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("Pub/Sub disabled, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher = gcppublisher.New(a.pubsubClient, a.cfg.PubSub.Topic)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.gcpPublisher, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	}
	hubCfg := progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func (a *App) setupSolver(ctx context.Context, override scraper.CaptchaSolver) (scraper.CaptchaSolver, error) {
	next := override
	if next == nil {
		gemini, err := captcha.NewGeminiSolver(ctx, a.cfg.Captcha.Config, nil, a.logger)
		if err != nil {
			return nil, fmt.Errorf("captcha solver init failed: %w", err)
		}
		next = gemini
	}
	cached, err := captcha.NewCachingSolver(next, a.cfg.Captcha.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("captcha cache init failed: %w", err)
	}
	return cached, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pgPool != nil {
		if err := a.pgPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}
