package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/metrics"
	"github.com/JakeFAU/landrecord-scraper/internal/middleware"
	"github.com/JakeFAU/landrecord-scraper/internal/orchestrator"
	"github.com/JakeFAU/landrecord-scraper/internal/progress"
	"github.com/JakeFAU/landrecord-scraper/internal/report"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
	"github.com/JakeFAU/landrecord-scraper/internal/store"
)

// RunHandle is the view of a live run the handlers need.
type RunHandle interface {
	ID() uuid.UUID
	Scope() scraper.Scope
	StartedAt() time.Time
	Progress() progress.Snapshot
	Finished() bool
	Report() (*report.Report, bool)
	ReportURI() string
	Cancel()
}

// Runner starts runs and finds live ones.
type Runner interface {
	Start(ctx context.Context, scope scraper.Scope) (RunHandle, error)
	Get(id uuid.UUID) (RunHandle, error)
}

// Catalog lists the districts a run can target.
type Catalog interface {
	Districts() []scraper.District
}

// Options configures the server.
type Options struct {
	// APIKey enables key checks on every /v1 route when set.
	APIKey         string
	RequestTimeout time.Duration
	// Ready reports dependency readiness for /readyz; nil means always ready.
	Ready func(context.Context) error
}

// Server wires HTTP handlers to the orchestrator and the run store.
type Server struct {
	router  chi.Router
	runner  Runner
	catalog Catalog
	runs    *RunsHandler
	opts    Options
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. repo may be nil,
// in which case the stored-run routes answer 503.
func NewServer(runner Runner, catalog Catalog, repo store.RunRepository, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		runner:  runner,
		catalog: catalog,
		runs:    NewRunsHandler(repo, logger),
		opts:    opts,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(middleware.APIKey(opts.APIKey))
		}
		r.Get("/districts", s.listDistricts)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/", s.runs.ListRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Get("/report", s.getReport)
				r.Get("/units", s.runs.ListUnits)
				r.Post("/cancel", s.cancelRun)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listDistricts(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "reference data unavailable")
		return
	}
	districts := s.catalog.Districts()
	out := make([]districtDTO, 0, len(districts))
	for _, d := range districts {
		out = append(out, districtDTO{Code: d.Code, Name: d.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"districts": out})
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var scope scraper.Scope
	if err := json.NewDecoder(r.Body).Decode(&scope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	scope.District = strings.TrimSpace(scope.District)
	scope.Taluka = strings.TrimSpace(scope.Taluka)
	if scope.District == "" {
		writeError(w, http.StatusBadRequest, "district is required")
		return
	}
	if scope.MaxUnits < 0 {
		writeError(w, http.StatusBadRequest, "max_units must be >= 0")
		return
	}

	// The run outlives the request that started it.
	run, err := s.runner.Start(context.WithoutCancel(r.Context()), scope)
	if err != nil {
		switch {
		case errors.Is(err, scraper.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, scraper.ErrNoSessions):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("start run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start run")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": liveRunDTO(run)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if run, err := s.runner.Get(runID); err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"run": liveRunDTO(run)})
		return
	}
	s.runs.writeStoredRun(w, r, runID)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.runner.Get(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	rep, ok := run.Report()
	if !ok {
		writeError(w, http.StatusConflict, "run still in progress")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.runner.Get(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if run.Finished() {
		writeError(w, http.StatusConflict, "run already finished")
		return
	}
	run.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID.String(), "status": "canceling"})
}

// orchestratorRunner adapts *orchestrator.Orchestrator to Runner.
type orchestratorRunner struct {
	o *orchestrator.Orchestrator
}

// FromOrchestrator exposes o through the Runner interface.
func FromOrchestrator(o *orchestrator.Orchestrator) Runner {
	return orchestratorRunner{o: o}
}

func (r orchestratorRunner) Start(ctx context.Context, scope scraper.Scope) (RunHandle, error) {
	run, err := r.o.Start(ctx, scope)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r orchestratorRunner) Get(id uuid.UUID) (RunHandle, error) {
	run, err := r.o.Get(id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

type districtDTO struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type progressDTO struct {
	Processed      int64   `json:"processed"`
	Remaining      int64   `json:"remaining"`
	Percentage     float64 `json:"percentage"`
	PerMinute      float64 `json:"units_per_minute"`
	ETASeconds     float64 `json:"eta_seconds"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func liveRunDTO(run RunHandle) runDTO {
	snap := run.Progress()
	scope := run.Scope()
	dto := runDTO{
		RunID:      run.ID().String(),
		District:   scope.District,
		Taluka:     scope.Taluka,
		Status:     string(store.RunRunning),
		StartedAt:  run.StartedAt(),
		Total:      snap.Total,
		Successful: snap.Successful,
		Failed:     snap.Failed,
		Live:       true,
		Progress: &progressDTO{
			Processed:      snap.Processed,
			Remaining:      snap.Remaining(),
			Percentage:     snap.Percentage,
			PerMinute:      snap.PerMinute,
			ETASeconds:     snap.ETA.Seconds(),
			ElapsedSeconds: snap.Elapsed.Seconds(),
		},
	}
	if rep, ok := run.Report(); ok {
		finished := rep.FinishedAt
		dto.Status = rep.Status
		dto.FinishedAt = &finished
		dto.ReportURI = run.ReportURI()
		if rep.Error != "" {
			msg := rep.Error
			dto.Error = &msg
		}
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
