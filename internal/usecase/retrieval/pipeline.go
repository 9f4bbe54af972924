package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bkyoung/mnemosyne/internal/domain"
)

// rrfK is the standard Reciprocal Rank Fusion smoothing constant.
const rrfK = 60

// Pipeline runs the hybrid retrieval and re-ranking funnel.
type Pipeline struct {
	embedder DenseEmbedder
	encoder  SparseEncoder
	store    VectorStore
	reranker Reranker
	logger   Logger
	config   Config
}

// NewPipeline creates a retrieval pipeline. All collaborators are
// required except reranker; a nil reranker degrades RerankResults to
// a passthrough of the first topK candidates.
func NewPipeline(embedder DenseEmbedder, encoder SparseEncoder, store VectorStore, reranker Reranker, logger Logger, config Config) *Pipeline {
	return &Pipeline{
		embedder: embedder,
		encoder:  encoder,
		store:    store,
		reranker: reranker,
		logger:   logger,
		config:   config,
	}
}

// HybridSearch retrieves candidates by fusing dense and sparse search
// results with Reciprocal Rank Fusion. A sparse-side failure degrades
// to dense-only retrieval; a dense-side failure fails the search.
func (p *Pipeline) HybridSearch(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if limit <= 0 {
		limit = p.config.TopKCandidates
	}

	dense, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	denseResults, err := p.store.QueryDense(ctx, dense, limit)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}

	sparse := p.encoder.Encode(query)
	sparseResults, err := p.store.QuerySparse(ctx, sparse, limit)
	if err != nil {
		p.logger.Warn(ctx, "sparse search failed, using dense results only", map[string]interface{}{
			"error": err.Error(),
		})
		sparseResults = nil
	}

	fused := fuseRRF(denseResults, sparseResults)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	p.logger.Info(ctx, "hybrid search complete", map[string]interface{}{
		"query_length": len(query),
		"dense_hits":   len(denseResults),
		"sparse_hits":  len(sparseResults),
		"fused":        len(fused),
	})

	return fused, nil
}

// fuseRRF merges ranked result lists with Reciprocal Rank Fusion:
// each result contributes 1/(k + rank) per list it appears in, ranks
// 1-indexed. Output is ordered by fused score descending; ties keep
// first-appearance order.
func fuseRRF(lists ...[]domain.SearchResult) []domain.SearchResult {
	type entry struct {
		result domain.SearchResult
		score  float64
		order  int
	}

	merged := make(map[string]*entry)
	seen := 0

	for _, list := range lists {
		for rank, r := range list {
			contribution := 1.0 / float64(rrfK+rank+1)
			if e, ok := merged[r.ReportID]; ok {
				e.score += contribution
				continue
			}
			merged[r.ReportID] = &entry{result: r, score: contribution, order: seen}
			seen++
		}
	}

	entries := make([]*entry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].order < entries[j].order
	})

	out := make([]domain.SearchResult, len(entries))
	for i, e := range entries {
		r := e.result
		r.Score = e.score
		out[i] = r
	}
	return out
}

// RerankResults re-scores candidates against the query with a
// cross-encoder and returns the top topK by the new scores. The
// cross-encoder score replaces the retrieval score entirely. On
// reranker failure the first topK input candidates pass through with
// their retrieval scores intact.
func (p *Pipeline) RerankResults(ctx context.Context, query string, candidates []domain.SearchResult, topK int) []domain.SearchResult {
	if len(candidates) == 0 {
		return nil
	}
	if topK <= 0 {
		topK = p.config.RerankTopK
	}

	if p.reranker == nil {
		return firstK(candidates, topK)
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = buildPassage(c.Report)
	}

	scores, err := p.reranker.Rerank(ctx, query, passages)
	if err != nil || len(scores) != len(candidates) {
		fields := map[string]interface{}{"candidates": len(candidates)}
		if err != nil {
			fields["error"] = err.Error()
		}
		p.logger.Warn(ctx, "re-ranking failed, passing through retrieval order", fields)
		return firstK(candidates, topK)
	}

	reranked := make([]domain.SearchResult, len(candidates))
	for i, c := range candidates {
		c.Score = scores[i]
		reranked[i] = c
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})

	return firstK(reranked, topK)
}

// Search runs the full funnel: hybrid retrieval, re-ranking, then
// final top-K selection.
func (p *Pipeline) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	candidates, err := p.HybridSearch(ctx, query, p.config.TopKCandidates)
	if err != nil {
		return nil, err
	}

	reranked := p.RerankResults(ctx, query, candidates, p.config.RerankTopK)
	return firstK(reranked, p.config.FinalTopK), nil
}

// buildPassage renders a report as a compact passage for cross-encoder
// scoring: headline fields plus the first few reproduction steps.
func buildPassage(r domain.StructuredReport) string {
	var sb strings.Builder
	sb.WriteString(r.Title)
	sb.WriteString(" | ")
	sb.WriteString(r.VulnerabilityType)
	sb.WriteString(" in ")
	sb.WriteString(r.AffectedComponent)
	sb.WriteString(" | ")
	sb.WriteString(r.Summary)

	if len(r.ReproductionSteps) > 0 {
		steps := r.ReproductionSteps
		if len(steps) > 3 {
			steps = steps[:3]
		}
		sb.WriteString(" | Steps: ")
		sb.WriteString(strings.Join(steps, " "))
	}

	return sb.String()
}

func firstK(results []domain.SearchResult, k int) []domain.SearchResult {
	if len(results) > k {
		return results[:k]
	}
	return results
}
