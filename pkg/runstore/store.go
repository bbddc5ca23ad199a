// Package runstore persists terminal run results and their steps to SQLite,
// with scheduled retention pruning.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	task           TEXT NOT NULL,
	state          TEXT NOT NULL,
	steps_taken    INTEGER NOT NULL,
	input_tokens   INTEGER NOT NULL,
	output_tokens  INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	output         TEXT,
	error          TEXT,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step_number  INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	PRIMARY KEY (run_id, step_number)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// RunRecord is the persisted form of a terminal run.
type RunRecord struct {
	ID           string    `json:"id"`
	Task         string    `json:"task"`
	State        string    `json:"state"`
	StepsTaken   int       `json:"steps_taken"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMs   int64     `json:"duration_ms"`
	Output       string    `json:"output,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StepRecord is one persisted step, payload as JSON.
type StepRecord struct {
	RunID      string `json:"run_id"`
	StepNumber int    `json:"step_number"`
	Payload    string `json:"payload"`
}

// Config holds store configuration.
type Config struct {
	// Path is the database file; empty uses ~/.arka/runs.db.
	Path string

	// Retention prunes runs older than this; zero disables pruning.
	Retention time.Duration

	Logger zerolog.Logger
}

// Store persists runs and steps.
type Store struct {
	db        *sql.DB
	retention time.Duration
	scheduler *cron.Cron
	logger    zerolog.Logger
}

// Open opens the database, creates the schema, and schedules retention.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".arka", "runs.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{
		db:        db,
		retention: cfg.Retention,
		logger:    cfg.Logger,
	}

	if cfg.Retention > 0 {
		s.scheduler = cron.New()
		if _, err := s.scheduler.AddFunc("@hourly", s.pruneExpired); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to schedule retention: %w", err)
		}
		s.scheduler.Start()
	}

	s.logger.Info().Str("path", path).Msg("Run store opened")

	return s, nil
}

// Close stops the retention schedule and closes the database.
func (s *Store) Close() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	return s.db.Close()
}

// SaveRun writes one terminal run and its steps in a single transaction.
func (s *Store) SaveRun(ctx context.Context, run RunRecord, steps []StepRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, task, state, steps_taken, input_tokens, output_tokens, duration_ms, output, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Task, run.State, run.StepsTaken, run.InputTokens, run.OutputTokens,
		run.DurationMs, run.Output, run.Error, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, step := range steps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO steps (run_id, step_number, payload) VALUES (?, ?, ?)`,
			run.ID, step.StepNumber, step.Payload,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", step.StepNumber, err)
		}
	}

	return tx.Commit()
}

// GetRun loads one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task, state, steps_taken, input_tokens, output_tokens, duration_ms, output, error, created_at
		 FROM runs WHERE id = ?`, id)

	var run RunRecord
	err := row.Scan(&run.ID, &run.Task, &run.State, &run.StepsTaken, &run.InputTokens,
		&run.OutputTokens, &run.DurationMs, &run.Output, &run.Error, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	return &run, nil
}

// GetSteps loads the persisted steps of a run in step order.
func (s *Store) GetSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_number, payload FROM steps WHERE run_id = ? ORDER BY step_number`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var step StepRecord
		if err := rows.Scan(&step.RunID, &step.StepNumber, &step.Payload); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, state, steps_taken, input_tokens, output_tokens, duration_ms, output, error, created_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		err := rows.Scan(&run.ID, &run.Task, &run.State, &run.StepsTaken, &run.InputTokens,
			&run.OutputTokens, &run.DurationMs, &run.Output, &run.Error, &run.CreatedAt)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// pruneExpired removes runs older than the retention window.
func (s *Store) pruneExpired() {
	cutoff := time.Now().Add(-s.retention)

	result, err := s.db.Exec(`DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention pruning failed")
		return
	}

	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		s.logger.Info().Int64("pruned", affected).Msg("Expired runs pruned")
	}
}
