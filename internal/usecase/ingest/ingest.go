// Package ingest turns raw report text into indexed corpus entries.
// Raw text is normalized into a structured report by an LLM, embedded
// densely and sparsely, then upserted into the vector store keyed by a
// content-derived deterministic ID.
package ingest

import (
	"context"
	"fmt"

	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/usecase/retrieval"
)

// Normalizer converts raw report text into a structured report.
type Normalizer interface {
	Normalize(ctx context.Context, rawText string) (domain.StructuredReport, error)
}

// Point is one indexed corpus entry.
type Point struct {
	ID     string
	Dense  []float32
	Sparse retrieval.SparseVector
	Report domain.StructuredReport
}

// Store persists corpus entries.
type Store interface {
	// Exists reports whether a point with the given ID is indexed.
	Exists(ctx context.Context, id string) (bool, error)

	// Upsert writes points, replacing any with matching IDs.
	Upsert(ctx context.Context, points []Point) error
}

// Logger records ingestion progress.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// Ingestor runs the normalize-embed-index pipeline for single reports.
type Ingestor struct {
	normalizer Normalizer
	embedder   retrieval.DenseEmbedder
	encoder    retrieval.SparseEncoder
	store      Store
	logger     Logger
}

// NewIngestor creates an ingestor. All collaborators are required.
func NewIngestor(normalizer Normalizer, embedder retrieval.DenseEmbedder, encoder retrieval.SparseEncoder, store Store, logger Logger) *Ingestor {
	return &Ingestor{
		normalizer: normalizer,
		embedder:   embedder,
		encoder:    encoder,
		store:      store,
		logger:     logger,
	}
}

// Ingest indexes one raw report. Re-submitting identical text is a
// no-op: the content-derived ID is checked before any LLM call so
// duplicates cost nothing.
func (ing *Ingestor) Ingest(ctx context.Context, rawText string) (domain.IngestionResult, error) {
	id := domain.ReportID(rawText)

	exists, err := ing.store.Exists(ctx, id)
	if err != nil {
		return domain.IngestionResult{}, fmt.Errorf("checking existing report: %w", err)
	}
	if exists {
		ing.logger.Info(ctx, "report already indexed", map[string]interface{}{"report_id": id})
		return domain.IngestionResult{
			Success:       true,
			ReportID:      id,
			AlreadyExists: true,
			Message:       "report already indexed",
		}, nil
	}

	report, err := ing.normalizer.Normalize(ctx, rawText)
	if err != nil {
		return domain.IngestionResult{}, fmt.Errorf("normalizing report: %w", err)
	}
	if err := report.Validate(); err != nil {
		return domain.IngestionResult{}, fmt.Errorf("normalized report invalid: %w", err)
	}

	embeddingText := BuildEmbeddingText(report)
	dense, err := ing.embedder.Embed(ctx, embeddingText)
	if err != nil {
		return domain.IngestionResult{}, fmt.Errorf("embedding report: %w", err)
	}
	sparse := ing.encoder.Encode(embeddingText)

	point := Point{ID: id, Dense: dense, Sparse: sparse, Report: report}
	if err := ing.store.Upsert(ctx, []Point{point}); err != nil {
		return domain.IngestionResult{}, fmt.Errorf("indexing report: %w", err)
	}

	ing.logger.Info(ctx, "report indexed", map[string]interface{}{
		"report_id": id,
		"title":     report.Title,
		"type":      report.VulnerabilityType,
	})

	return domain.IngestionResult{
		Success:  true,
		ReportID: id,
		Message:  "report indexed",
	}, nil
}
