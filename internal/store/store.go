// Package store defines the persistence interface for detection run
// history. Every scan records its verdict, cost, and candidate set so
// triage decisions can be audited after the fact.
package store

import (
	"context"
	"time"

	"github.com/bkyoung/mnemosyne/internal/domain"
)

// Store persists detection run history.
type Store interface {
	// SaveRun records one completed detection run.
	SaveRun(ctx context.Context, run Run) error

	// GetRun fetches a run by ID.
	GetRun(ctx context.Context, runID string) (Run, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Stats aggregates verdict counts and total cost across all runs.
	Stats(ctx context.Context) (RunStats, error)

	// Close releases the underlying database handle.
	Close() error
}

// Run is one detection run's outcome.
type Run struct {
	RunID           string
	Timestamp       time.Time
	ReportID        string
	ReportTitle     string
	Status          string
	IsDuplicate     bool
	SimilarityScore float64
	MatchedReportID string
	Iterations      int
	InputTokens     int
	OutputTokens    int
	Cost            float64
	Candidates      []domain.CandidateRef
}

// RunStats summarizes run history.
type RunStats struct {
	TotalRuns  int
	Duplicates int
	Similar    int
	New        int
	TotalCost  float64
}
