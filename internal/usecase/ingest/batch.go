package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatchConfig bounds batch ingestion against LLM provider rate limits.
type BatchConfig struct {
	// Concurrency is the number of reports normalized in parallel.
	Concurrency int

	// Delay is the minimum spacing between report submissions.
	Delay time.Duration
}

// DefaultBatchConfig returns the default batch configuration.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Concurrency: 3,
		Delay:       time.Second,
	}
}

// FileResult is the per-file outcome of a batch run.
type FileResult struct {
	Path          string
	ReportID      string
	AlreadyExists bool
	Err           error
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Total   int
	Indexed int
	Skipped int
	Failed  int
	Results []FileResult
}

// IngestDirectory ingests every .md and .txt file under dir. Files are
// processed with bounded concurrency and rate-limited submission; one
// file failing does not stop the rest. The returned error covers only
// directory traversal and context cancellation.
func (ing *Ingestor) IngestDirectory(ctx context.Context, dir string, cfg BatchConfig) (BatchSummary, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultBatchConfig().Concurrency
	}

	paths, err := collectReportFiles(dir)
	if err != nil {
		return BatchSummary{}, err
	}

	ing.logger.Info(ctx, "starting batch ingestion", map[string]interface{}{
		"dir":         dir,
		"files":       len(paths),
		"concurrency": cfg.Concurrency,
	})

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}

	results := make([]FileResult, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}

			fr := ing.ingestFile(gctx, path)

			mu.Lock()
			results[i] = fr
			mu.Unlock()

			if fr.Err != nil {
				ing.logger.Warn(gctx, "file ingestion failed", map[string]interface{}{
					"path":  path,
					"error": fr.Err.Error(),
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return BatchSummary{}, err
	}

	summary := BatchSummary{Total: len(paths), Results: results}
	for _, r := range results {
		switch {
		case r.Err != nil:
			summary.Failed++
		case r.AlreadyExists:
			summary.Skipped++
		default:
			summary.Indexed++
		}
	}

	ing.logger.Info(ctx, "batch ingestion complete", map[string]interface{}{
		"indexed": summary.Indexed,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	})

	return summary, nil
}

func (ing *Ingestor) ingestFile(ctx context.Context, path string) FileResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileResult{Path: path, Err: fmt.Errorf("reading file: %w", err)}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return FileResult{Path: path, Err: fmt.Errorf("file is empty")}
	}

	result, err := ing.Ingest(ctx, string(data))
	if err != nil {
		return FileResult{Path: path, Err: err}
	}
	return FileResult{Path: path, ReportID: result.ReportID, AlreadyExists: result.AlreadyExists}
}

func collectReportFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip VCS internals when ingesting cloned corpora.
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return paths, nil
}
