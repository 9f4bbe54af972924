// Package sqlite persists detection run history in a local SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/store"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements the store.Store interface using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite store at the given path.
// Use ":memory:" for an in-memory database (useful for testing).
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}

	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
	-- One row per detection run
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		report_id TEXT NOT NULL,
		report_title TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('duplicate', 'similar', 'new')),
		is_duplicate INTEGER NOT NULL DEFAULT 0,
		similarity_score REAL NOT NULL DEFAULT 0.0,
		matched_report_id TEXT,
		iterations INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0.0,
		candidates TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_report ON runs(report_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun records one completed detection run.
func (s *Store) SaveRun(ctx context.Context, run store.Run) error {
	candidates, err := json.Marshal(run.Candidates)
	if err != nil {
		return fmt.Errorf("encoding candidates: %w", err)
	}

	query := `
		INSERT INTO runs (run_id, timestamp, report_id, report_title, status, is_duplicate,
			similarity_score, matched_report_id, iterations, input_tokens, output_tokens, cost, candidates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.RunID,
		run.Timestamp.Unix(),
		run.ReportID,
		run.ReportTitle,
		run.Status,
		run.IsDuplicate,
		run.SimilarityScore,
		run.MatchedReportID,
		run.Iterations,
		run.InputTokens,
		run.OutputTokens,
		run.Cost,
		string(candidates),
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (store.Run, error) {
	query := `
		SELECT run_id, timestamp, report_id, report_title, status, is_duplicate,
			similarity_score, matched_report_id, iterations, input_tokens, output_tokens, cost, candidates
		FROM runs WHERE run_id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return store.Run{}, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("getting run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT run_id, timestamp, report_id, report_title, status, is_duplicate,
			similarity_score, matched_report_id, iterations, input_tokens, output_tokens, cost, candidates
		FROM runs ORDER BY timestamp DESC, run_id LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats aggregates verdict counts and total cost across all runs.
func (s *Store) Stats(ctx context.Context) (store.RunStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'duplicate' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'similar' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'new' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(cost), 0.0)
		FROM runs
	`

	var stats store.RunStats
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalRuns, &stats.Duplicates, &stats.Similar, &stats.New, &stats.TotalCost)
	if err != nil {
		return store.RunStats{}, fmt.Errorf("aggregating stats: %w", err)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (store.Run, error) {
	var run store.Run
	var timestamp int64
	var matched sql.NullString
	var candidates sql.NullString

	err := row.Scan(
		&run.RunID,
		&timestamp,
		&run.ReportID,
		&run.ReportTitle,
		&run.Status,
		&run.IsDuplicate,
		&run.SimilarityScore,
		&matched,
		&run.Iterations,
		&run.InputTokens,
		&run.OutputTokens,
		&run.Cost,
		&candidates,
	)
	if err != nil {
		return store.Run{}, err
	}

	run.Timestamp = time.Unix(timestamp, 0).UTC()
	run.MatchedReportID = matched.String

	if candidates.Valid && candidates.String != "" && candidates.String != "null" {
		var refs []domain.CandidateRef
		if err := json.Unmarshal([]byte(candidates.String), &refs); err != nil {
			return store.Run{}, fmt.Errorf("decoding candidates: %w", err)
		}
		run.Candidates = refs
	}

	return run, nil
}

// Compile-time interface check
var _ store.Store = (*Store)(nil)
