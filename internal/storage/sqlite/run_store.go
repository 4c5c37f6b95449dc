// Package sqlite provides a single-file RunRepository for local runs that do
// not have a Postgres instance.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/JakeFAU/landrecord-scraper/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id            TEXT PRIMARY KEY,
	district      TEXT NOT NULL,
	taluka        TEXT NOT NULL DEFAULT '',
	total         INTEGER NOT NULL DEFAULT 0,
	successful    INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP,
	status        TEXT NOT NULL,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON scrape_runs(started_at);

CREATE TABLE IF NOT EXISTS unit_results (
	run_id           TEXT NOT NULL,
	unit_id          TEXT NOT NULL,
	district         TEXT NOT NULL,
	taluka           TEXT NOT NULL,
	village          TEXT NOT NULL,
	success          INTEGER NOT NULL,
	error_class      TEXT NOT NULL DEFAULT '',
	captcha_attempts INTEGER NOT NULL DEFAULT 0,
	artifact_id      TEXT NOT NULL DEFAULT '',
	duration_ms      INTEGER NOT NULL DEFAULT 0,
	finished_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, unit_id),
	FOREIGN KEY (run_id) REFERENCES scrape_runs(id)
);
`

// RunStore implements store.RunRepository on SQLite.
type RunStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// StartRun inserts the run header; a repeated start is ignored.
func (s *RunStore) StartRun(ctx context.Context, run store.Run) error {
	status := run.Status
	if status == "" {
		status = store.RunRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scrape_runs (id, district, taluka, total, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.District, run.Taluka, run.Total, run.StartedAt.UTC(), string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// RecordUnits inserts unit outcomes and bumps the run counters in one transaction.
func (s *RunStore) RecordUnits(ctx context.Context, runID uuid.UUID, units []store.UnitRecord) error {
	if len(units) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO unit_results (
			run_id, unit_id, district, taluka, village, success,
			error_class, captcha_attempts, artifact_id, duration_ms, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare unit insert: %w", err)
	}
	defer stmt.Close()

	var successful, failed int64
	for _, u := range units {
		res, err := stmt.ExecContext(ctx,
			runID.String(),
			u.UnitID,
			u.District,
			u.Taluka,
			u.Village,
			u.Success,
			u.ErrorClass,
			u.CaptchaAttempts,
			u.ArtifactID,
			u.Duration.Milliseconds(),
			u.FinishedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert unit %s: %w", u.UnitID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if u.Success {
			successful++
		} else {
			failed++
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scrape_runs SET successful = successful + ?, failed = failed + ? WHERE id = ?`,
		successful, failed, runID.String(),
	); err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit batch: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scrape_runs SET finished_at = ?, status = ?, error_message = ? WHERE id = ?`,
		finishedAt.UTC(), string(status), errMsg, runID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

const runColumns = `id, district, taluka, total, successful, failed, started_at, finished_at, status, error_message`

type scanner interface {
	Scan(dest ...any) error
}

// GetRun loads a single run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scrape_runs WHERE id = ?`, runID.String())
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first with an optional status filter.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM scrape_runs WHERE 1=1`
	args := make([]any, 0, 3)
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// ListUnits returns unit outcomes for one run.
func (s *RunStore) ListUnits(
	ctx context.Context,
	runID uuid.UUID,
	failedOnly bool,
	limit,
	offset int,
) ([]store.UnitRecord, error) {
	query := `
		SELECT unit_id, district, taluka, village, success,
			error_class, captcha_attempts, artifact_id, duration_ms, finished_at
		FROM unit_results WHERE run_id = ?`
	if failedOnly {
		query += ` AND success = 0`
	}
	query += ` ORDER BY finished_at ASC, unit_id ASC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, runID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []store.UnitRecord
	for rows.Next() {
		var (
			u          = store.UnitRecord{RunID: runID}
			durationMS int64
		)
		if err := rows.Scan(
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

func scanRun(row scanner) (store.Run, error) {
	var (
		run        store.Run
		id         string
		status     string
		finishedAt sql.NullTime
		errMsg     sql.NullString
	)
	if err := row.Scan(
		&id,
		&run.District,
		&run.Taluka,
		&run.Total,
		&run.Successful,
		&run.Failed,
		&run.StartedAt,
		&finishedAt,
		&status,
		&errMsg,
	); err != nil {
		return store.Run{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.Run{}, fmt.Errorf("parse run id: %w", err)
	}
	run.ID = parsed
	run.Status = store.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	return run, nil
}
