// Package store keeps generation run history in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrRunNotFound is returned when no run exists for a session.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS generation_runs (
	session_id    TEXT PRIMARY KEY,
	project_name  TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL,
	preview_url   TEXT NOT NULL DEFAULT '',
	repo_path     TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	error_code    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS generation_runs_started_at_idx ON generation_runs (started_at DESC);
`

// Run is one row of generation history.
type Run struct {
	SessionID    string     `json:"session_id"`
	ProjectName  string     `json:"project_name"`
	Provider     string     `json:"provider"`
	Status       string     `json:"status"`
	PreviewURL   string     `json:"preview_url,omitempty"`
	RepoPath     string     `json:"repo_path,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunStore records generation runs. A nil pool turns every write into a
// no-op so the service runs without a database.
type RunStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Connect opens and pings a pool for databaseURL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewRunStore creates a run store over pool, which may be nil.
func NewRunStore(pool *pgxpool.Pool, logger zerolog.Logger) *RunStore {
	return &RunStore{
		pool:   pool,
		logger: logger.With().Str("component", "run_store").Logger(),
	}
}

// Enabled reports whether a database is attached.
func (s *RunStore) Enabled() bool {
	return s != nil && s.pool != nil
}

// Ping checks the database connection. It succeeds when no database is attached.
func (s *RunStore) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the history table if it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordStarted inserts a running row, replacing any earlier run of the session.
func (s *RunStore) RecordStarted(ctx context.Context, sessionID, projectName, provider string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO generation_runs (session_id, project_name, provider, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET project_name = EXCLUDED.project_name,
		    provider = EXCLUDED.provider,
		    status = EXCLUDED.status,
		    preview_url = '',
		    repo_path = '',
		    duration_ms = 0,
		    error_code = '',
		    error_message = '',
		    started_at = NOW(),
		    finished_at = NULL
	`, sessionID, projectName, provider, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RecordFinished stores the outcome of a run.
func (s *RunStore) RecordFinished(ctx context.Context, sessionID string, result *models.GenerationResult, runErr error) error {
	if !s.Enabled() {
		return nil
	}

	var previewURL, repoPath, errMsg string
	var durationMs int64
	if result != nil {
		previewURL, repoPath, durationMs = result.PreviewURL, result.RepoPath, result.DurationMs
	}
	if runErr != nil {
		errMsg = runErr.Error()
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE generation_runs
		SET status = $2,
		    preview_url = $3,
		    repo_path = $4,
		    duration_ms = CASE WHEN $5::BIGINT > 0 THEN $5::BIGINT ELSE (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT END,
		    error_code = $6,
		    error_message = $7,
		    finished_at = NOW()
		WHERE session_id = $1
	`, sessionID, RunStatus(runErr), previewURL, repoPath, durationMs, models.ErrorCode(runErr), errMsg)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// GetRun loads the run for sessionID.
func (s *RunStore) GetRun(ctx context.Context, sessionID string) (*Run, error) {
	if !s.Enabled() {
		return nil, ErrRunNotFound
	}

	var run Run
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, project_name, provider, status, preview_url, repo_path,
		       duration_ms, error_code, error_message, started_at, finished_at
		FROM generation_runs
		WHERE session_id = $1
	`, sessionID).Scan(
		&run.SessionID,
		&run.ProjectName,
		&run.Provider,
		&run.Status,
		&run.PreviewURL,
		&run.RepoPath,
		&run.DurationMs,
		&run.ErrorCode,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRecent returns the latest runs, newest first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if !s.Enabled() {
		return []*Run{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT session_id, project_name, provider, status, preview_url, repo_path,
		       duration_ms, error_code, error_message, started_at, finished_at
		FROM generation_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.SessionID,
			&run.ProjectName,
			&run.Provider,
			&run.Status,
			&run.PreviewURL,
			&run.RepoPath,
			&run.DurationMs,
			&run.ErrorCode,
			&run.ErrorMessage,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// RunStatus maps a run error to its stored status.
func RunStatus(err error) string {
	switch {
	case err == nil:
		return StatusCompleted
	case models.ErrorCode(err) == models.ErrCodeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}
