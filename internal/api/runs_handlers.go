package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/store"
)

const (
	defaultRunLimit  = 50
	maxRunLimit      = 500
	defaultUnitLimit = 100
	maxUnitLimit     = 1000
	repoTimeout      = 3 * time.Second
)

// RunsHandler exposes read-only endpoints over the run store.
type RunsHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the repository and logger.
func NewRunsHandler(repo store.RunRepository, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		repo:    repo,
		timeout: repoTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns
// {"runs": [...]}, 400 for invalid filters, 503 without a repository, or 500
// when the repository fails.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		parsed, parseErr := store.ParseRunStatus(strings.ToLower(statusParam))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, storedRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// writeStoredRun answers GET /v1/runs/{run_id} from the repository.
func (h *RunsHandler) writeStoredRun(w http.ResponseWriter, r *http.Request, runID uuid.UUID) {
	if h.repo == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": storedRunDTO(run)})
}

// ListUnits handles GET /v1/runs/{run_id}/units?failed=&limit=&offset=.
func (h *RunsHandler) ListUnits(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultUnitLimit, maxUnitLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	failedOnly := false
	if v := r.URL.Query().Get("failed"); v != "" {
		failedOnly, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid failed flag")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	units, err := h.repo.ListUnits(ctx, runID, failedOnly, limit, offset)
	if err != nil {
		h.logger.Error("list units failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list units")
		return
	}
	out := make([]unitDTO, 0, len(units))
	for _, u := range units {
		out = append(out, unitDTO{
			UnitID:          u.UnitID,
			District:        u.District,
			Taluka:          u.Taluka,
			Village:         u.Village,
			Success:         u.Success,
			ErrorClass:      u.ErrorClass,
			CaptchaAttempts: u.CaptchaAttempts,
			ArtifactID:      u.ArtifactID,
			DurationMS:      u.Duration.Milliseconds(),
			FinishedAt:      u.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": out})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func storedRunDTO(run store.Run) runDTO {
	return runDTO{
		RunID:      run.ID.String(),
		District:   run.District,
		Taluka:     run.Taluka,
		Status:     string(run.Status),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Total:      run.Total,
		Successful: run.Successful,
		Failed:     run.Failed,
		Error:      run.ErrorMessage,
	}
}

type runDTO struct {
	RunID      string       `json:"run_id"`
	District   string       `json:"district"`
	Taluka     string       `json:"taluka,omitempty"`
	Status     string       `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Total      int64        `json:"total"`
	Successful int64        `json:"successful"`
	Failed     int64        `json:"failed"`
	Live       bool         `json:"live"`
	Progress   *progressDTO `json:"progress,omitempty"`
	ReportURI  string       `json:"report_uri,omitempty"`
	Error      *string      `json:"error,omitempty"`
}

type unitDTO struct {
	UnitID          string    `json:"unit_id"`
	District        string    `json:"district"`
	Taluka          string    `json:"taluka"`
	Village         string    `json:"village"`
	Success         bool      `json:"success"`
	ErrorClass      string    `json:"error_class,omitempty"`
	CaptchaAttempts int       `json:"captcha_attempts"`
	ArtifactID      string    `json:"artifact_id,omitempty"`
	DurationMS      int64     `json:"duration_ms"`
	FinishedAt      time.Time `json:"finished_at"`
}
