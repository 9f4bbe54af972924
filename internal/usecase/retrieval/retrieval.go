// Package retrieval implements the hybrid search pipeline for finding
// candidate duplicate reports. It implements a three-stage funnel:
//   - Stage 1: Hybrid retrieval (dense + sparse vectors, RRF fusion)
//   - Stage 2: Cross-encoder re-ranking of the fused candidates
//   - Stage 3: Final top-K selection for the detection agent
package retrieval

import (
	"context"

	"github.com/bkyoung/mnemosyne/internal/domain"
)

// SparseVector is a bag-of-words style vector in index/value form, the
// representation vector stores expect for lexical search.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// DenseEmbedder produces semantic embeddings for query and report text.
type DenseEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SparseEncoder produces lexical sparse vectors for query and report text.
type SparseEncoder interface {
	Encode(text string) SparseVector
}

// VectorStore runs similarity queries against the indexed report corpus.
// Implementations return results ordered best-first.
type VectorStore interface {
	// QueryDense searches by semantic vector similarity.
	QueryDense(ctx context.Context, vector []float32, limit int) ([]domain.SearchResult, error)

	// QuerySparse searches by lexical sparse-vector similarity.
	QuerySparse(ctx context.Context, vector SparseVector, limit int) ([]domain.SearchResult, error)
}

// Reranker scores query/passage pairs with a cross-encoder model.
// Scores are returned in the same order as the input passages.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Logger records pipeline progress and degradations.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// Config holds the funnel sizes for the retrieval pipeline.
type Config struct {
	// TopKCandidates is how many candidates hybrid retrieval returns.
	TopKCandidates int

	// RerankTopK is how many candidates survive re-ranking.
	RerankTopK int

	// FinalTopK is how many candidates the full funnel returns.
	FinalTopK int
}

// DefaultConfig returns the default funnel configuration.
func DefaultConfig() Config {
	return Config{
		TopKCandidates: 20,
		RerankTopK:     10,
		FinalTopK:      5,
	}
}
