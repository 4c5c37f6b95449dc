// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/landrecord-scraper/internal/store"
)

// Schema creates the run tables when they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id            UUID PRIMARY KEY,
	district      TEXT NOT NULL,
	taluka        TEXT NOT NULL DEFAULT '',
	total         BIGINT NOT NULL DEFAULT 0,
	successful    BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS unit_results (
	run_id           UUID NOT NULL REFERENCES scrape_runs(id) ON DELETE CASCADE,
	unit_id          TEXT NOT NULL,
	district         TEXT NOT NULL,
	taluka           TEXT NOT NULL,
	village          TEXT NOT NULL,
	success          BOOLEAN NOT NULL,
	error_class      TEXT NOT NULL DEFAULT '',
	captcha_attempts INTEGER NOT NULL DEFAULT 0,
	artifact_id      TEXT NOT NULL DEFAULT '',
	duration_ms      BIGINT NOT NULL DEFAULT 0,
	finished_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, unit_id)
);
CREATE TABLE IF NOT EXISTS artifacts (
	id          TEXT PRIMARY KEY,
	unit_id     TEXT NOT NULL,
	survey      TEXT NOT NULL DEFAULT '',
	hash        TEXT NOT NULL,
	blob_uri    TEXT NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
);
`

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool opens a pgx pool from cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pgxPool
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool pgxPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Migrate applies Schema.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate run schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts the run header; a repeated start only refreshes the status.
func (s *RunStore) StartRun(ctx context.Context, run store.Run) error {
	query := `
		INSERT INTO scrape_runs (id, district, taluka, total, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE scrape_runs.status <> EXCLUDED.status;
	`
	status := run.Status
	if status == "" {
		status = store.RunRunning
	}
	_, err := s.pool.Exec(ctx, query, run.ID, run.District, run.Taluka, run.Total, run.StartedAt, string(status))
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// RecordUnits inserts unit outcomes and bumps the run counters in one transaction.
func (s *RunStore) RecordUnits(ctx context.Context, runID uuid.UUID, units []store.UnitRecord) (err error) {
	if len(units) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	insert := `
		INSERT INTO unit_results (
			run_id, unit_id, district, taluka, village, success,
			error_class, captcha_attempts, artifact_id, duration_ms, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, unit_id) DO NOTHING;
	`
	var successful, failed int64
	for _, u := range units {
		tag, execErr := tx.Exec(ctx, insert,
			runID,
			u.UnitID,
			u.District,
			u.Taluka,
			u.Village,
			u.Success,
			u.ErrorClass,
			u.CaptchaAttempts,
			u.ArtifactID,
			u.Duration.Milliseconds(),
			u.FinishedAt,
		)
		if execErr != nil {
			return fmt.Errorf("insert unit %s: %w", u.UnitID, execErr)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if u.Success {
			successful++
		} else {
			failed++
		}
	}

	update := `UPDATE scrape_runs SET successful = successful + $1, failed = failed + $2 WHERE id = $3;`
	if _, err = tx.Exec(ctx, update, successful, failed, runID); err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit batch: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE scrape_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `id, district, taluka, total, successful, failed, started_at, finished_at, status, error_message`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM scrape_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs, newest first, with optional status filtering.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM scrape_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListUnits retrieves unit outcomes for a run, optionally failures only.
func (s *RunStore) ListUnits(
	ctx context.Context,
	runID uuid.UUID,
	failedOnly bool,
	limit,
	offset int,
) ([]store.UnitRecord, error) {
	query := `
		SELECT run_id, unit_id, district, taluka, village, success,
			error_class, captcha_attempts, artifact_id, duration_ms, finished_at
		FROM unit_results
		WHERE run_id = $1 AND (NOT $2 OR success = false)
		ORDER BY finished_at ASC
		LIMIT $3 OFFSET $4;
	`
	rows, err := s.pool.Query(ctx, query, runID, failedOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []store.UnitRecord
	for rows.Next() {
		var (
			u          store.UnitRecord
			durationMS int64
		)
		if err := rows.Scan(
			&u.RunID,
			&u.UnitID,
			&u.District,
			&u.Taluka,
			&u.Village,
			&u.Success,
			&u.ErrorClass,
			&u.CaptchaAttempts,
			&u.ArtifactID,
			&durationMS,
			&u.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unit row: %w", err)
		}
		u.Duration = time.Duration(durationMS) * time.Millisecond
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return units, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.District,
		&run.Taluka,
		&run.Total,
		&run.Successful,
		&run.Failed,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
	); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
