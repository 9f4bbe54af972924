package detect_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/usecase/detect"
)

type scriptedLLM struct {
	steps []detect.StepResult
	err   error
	calls int
	// last messages seen, for asserting what went back to the model
	lastMessages []detect.Message
}

func (s *scriptedLLM) Step(_ context.Context, _ string, _ []detect.ToolSpec, messages []detect.Message) (detect.StepResult, error) {
	s.lastMessages = messages
	if s.err != nil {
		return detect.StepResult{}, s.err
	}
	if s.calls >= len(s.steps) {
		return detect.StepResult{Text: "no more scripted steps"}, nil
	}
	step := s.steps[s.calls]
	s.calls++
	return step, nil
}

type fakeSearcher struct {
	results   []domain.SearchResult
	searchErr error
	queries   []string
}

func (f *fakeSearcher) HybridSearch(_ context.Context, query string, _ int) ([]domain.SearchResult, error) {
	f.queries = append(f.queries, query)
	return f.results, f.searchErr
}

func (f *fakeSearcher) RerankResults(_ context.Context, _ string, candidates []domain.SearchResult, topK int) []domain.SearchResult {
	if len(candidates) > topK {
		return candidates[:topK]
	}
	return candidates
}

type nopLogger struct{}

func (nopLogger) Info(_ context.Context, _ string, _ map[string]interface{}) {}
func (nopLogger) Warn(_ context.Context, _ string, _ map[string]interface{}) {}

func searchCall(query string) detect.ToolCall {
	input, _ := json.Marshal(map[string]interface{}{"query": query, "limit": 10})
	return detect.ToolCall{ID: "call_1", Name: "hybrid_search", Input: input}
}

func candidate(id string, score float64) domain.SearchResult {
	return domain.SearchResult{
		ReportID: id,
		Score:    score,
		Report: domain.StructuredReport{
			Title:             "Report " + id,
			Summary:           "Summary " + id,
			VulnerabilityType: "SSRF",
			AffectedComponent: "image proxy",
		},
	}
}

func testReport() domain.StructuredReport {
	return domain.StructuredReport{
		Title:             "SSRF in image proxy",
		Summary:           "The proxy fetches arbitrary internal URLs.",
		VulnerabilityType: "SSRF",
		Severity:          domain.SeverityHigh,
		AffectedComponent: "image proxy",
		ReproductionSteps: []string{"Request /proxy?url=http://169.254.169.254"},
	}
}

func newDetector(llm detect.ReasoningClient, searcher detect.Searcher) *detect.Detector {
	return detect.NewDetector(llm, searcher, nopLogger{}, detect.DefaultConfig())
}

func TestDetectEarlyStopOnHighScore(t *testing.T) {
	llm := &scriptedLLM{steps: []detect.StepResult{
		{Text: "searching", ToolCalls: []detect.ToolCall{searchCall("ssrf image proxy internal metadata")}},
	}}
	searcher := &fakeSearcher{results: []domain.SearchResult{candidate("dup-1", 0.95), candidate("other", 0.4)}}

	verdict, _, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
	require.NoError(t, err)

	assert.True(t, verdict.IsDuplicate)
	assert.Equal(t, domain.StatusDuplicate, verdict.Status)
	assert.Equal(t, "dup-1", verdict.MatchedReportID)
	assert.Equal(t, 0.95, verdict.SimilarityScore)
	require.NotNil(t, verdict.MatchedReport)
	assert.Equal(t, "Report dup-1", verdict.MatchedReport.Title)
	// Early stop means no second reasoning call.
	assert.Equal(t, 1, llm.calls)
}

func TestDetectNoEarlyStopAtThreshold(t *testing.T) {
	// Exactly 0.9 does not trigger the early stop; strictly greater does.
	llm := &scriptedLLM{steps: []detect.StepResult{
		{ToolCalls: []detect.ToolCall{searchCall("ssrf image proxy fetch")}},
		{Text: `{"is_duplicate": false, "similarity_score": 0.5, "matched_report_id": "", "status": "new", "reasoning": "different root cause"}`},
	}}
	searcher := &fakeSearcher{results: []domain.SearchResult{candidate("a", 0.9)}}

	verdict, _, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
	require.NoError(t, err)

	assert.False(t, verdict.IsDuplicate)
	assert.Equal(t, 2, llm.calls)
}

func TestDetectShortQueryDenied(t *testing.T) {
	llm := &scriptedLLM{steps: []detect.StepResult{
		{ToolCalls: []detect.ToolCall{searchCall("xss")}},
		{Text: `{"is_duplicate": false, "similarity_score": 0.1, "matched_report_id": "", "status": "new", "reasoning": "nothing similar"}`},
	}}
	searcher := &fakeSearcher{results: []domain.SearchResult{candidate("a", 0.8)}}

	verdict, _, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
	require.NoError(t, err)

	// The search never ran; the denial went back as a tool result.
	assert.Empty(t, searcher.queries)
	require.Len(t, llm.lastMessages, 3)
	toolTurn := llm.lastMessages[2]
	require.Len(t, toolTurn.ToolResults, 1)
	assert.True(t, toolTurn.ToolResults[0].IsError)
	assert.Contains(t, toolTurn.ToolResults[0].Content, "Query too short")

	// The run continued to a final answer.
	assert.Equal(t, domain.StatusNew, verdict.Status)
	assert.Equal(t, 2, llm.calls)
}

func TestDetectQueryLengthBoundary(t *testing.T) {
	// Length is measured after trimming whitespace against the
	// five-character minimum.
	tests := []struct {
		name    string
		query   string
		allowed bool
	}{
		{"four chars denied", "idor", false},
		{"five chars permitted", "idors", true},
		{"padding does not count", "  idor  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{steps: []detect.StepResult{
				{ToolCalls: []detect.ToolCall{searchCall(tt.query)}},
				{Text: `{"is_duplicate": false, "similarity_score": 0.0, "matched_report_id": "", "status": "new", "reasoning": "nothing similar"}`},
			}}
			searcher := &fakeSearcher{results: []domain.SearchResult{candidate("a", 0.3)}}

			_, _, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
			require.NoError(t, err)

			require.Len(t, llm.lastMessages, 3)
			results := llm.lastMessages[2].ToolResults
			require.Len(t, results, 1)
			if tt.allowed {
				assert.Equal(t, []string{tt.query}, searcher.queries)
				assert.False(t, results[0].IsError)
			} else {
				assert.Empty(t, searcher.queries, "denied query must not reach the searcher")
				assert.True(t, results[0].IsError)
				assert.Contains(t, results[0].Content, "Query too short")
			}
		})
	}
}

func TestDetectFinalAnswerExtractedFromProse(t *testing.T) {
	llm := &scriptedLLM{steps: []detect.StepResult{
		{ToolCalls: []detect.ToolCall{searchCall("ssrf image proxy fetch internal")}},
		{Text: "Based on my investigation, here is my verdict:\n" +
			`{"is_duplicate": true, "similarity_score": 0.88, "matched_report_id": "dup-7", "status": "duplicate", "reasoning": "same endpoint and mechanism"}` +
			"\nLet me know if you need more detail."},
	}}
	searcher := &fakeSearcher{results: []domain.SearchResult{candidate("dup-7", 0.82)}}

	verdict, _, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
	require.NoError(t, err)

	assert.True(t, verdict.IsDuplicate)
	assert.Equal(t, domain.StatusDuplicate, verdict.Status)
	assert.Equal(t, "dup-7", verdict.MatchedReportID)
	assert.Equal(t, 0.88, verdict.SimilarityScore)
	require.NotNil(t, verdict.MatchedReport, "matched report resolved from searched candidates")
	assert.Equal(t, "Report dup-7", verdict.MatchedReport.Title)
}

func TestDetectUnparseableFinalAnswerFallsBackToNew(t *testing.T) {
	llm := &scriptedLLM{steps: []detect.StepResult{
		{Text: "I could not reach a structured conclusion."},
	}}

	verdict, _, err := newDetector(llm, &fakeSearcher{}).Detect(context.Background(), testReport())
	require.NoError(t, err)

	assert.False(t, verdict.IsDuplicate)
	assert.Equal(t, domain.StatusNew, verdict.Status)
	assert.Zero(t, verdict.SimilarityScore)
	assert.Empty(t, verdict.MatchedReportID)
}

func TestDetectStatusTakenFromFinalAnswer(t *testing.T) {
	llm := &scriptedLLM{steps: []detect.StepResult{
		{Text: `{"is_duplicate": false, "similarity_score": 0.72, "matched_report_id": "", "status": "similar", "reasoning": "overlapping surface"}`},
	}}

	verdict, _, err := newDetector(llm, &fakeSearcher{}).Detect(context.Background(), testReport())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSimilar, verdict.Status)
	assert.Equal(t, 0.72, verdict.SimilarityScore)
}

func TestDetectStatusNotDerivedFromScore(t *testing.T) {
	// A high score with status "new" stays "new": the model owns the
	// classification, the controller does not re-apply thresholds.
	llm := &scriptedLLM{steps: []detect.StepResult{
		{Text: `{"is_duplicate": false, "similarity_score": 0.72, "matched_report_id": "", "status": "new", "reasoning": "same class, unrelated component"}`},
	}}

	verdict, _, err := newDetector(llm, &fakeSearcher{}).Detect(context.Background(), testReport())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNew, verdict.Status)
	assert.Equal(t, 0.72, verdict.SimilarityScore)
}

func TestDetectFinalAnswerDefaults(t *testing.T) {
	// Missing fields take their defaults: not a duplicate, zero score,
	// status "new". Unknown status values also collapse to "new".
	llm := &scriptedLLM{steps: []detect.StepResult{
		{Text: `{"matched_report_id": "x-1"}`},
	}}

	verdict, _, err := newDetector(llm, &fakeSearcher{}).Detect(context.Background(), testReport())
	require.NoError(t, err)

	assert.False(t, verdict.IsDuplicate)
	assert.Zero(t, verdict.SimilarityScore)
	assert.Equal(t, domain.StatusNew, verdict.Status)
	assert.Equal(t, "x-1", verdict.MatchedReportID)
}

func TestDetectIterationCapYieldsSimilar(t *testing.T) {
	// Every turn issues another search; the cap ends the run.
	step := detect.StepResult{ToolCalls: []detect.ToolCall{searchCall("ssrf proxy internal address")}}
	llm := &scriptedLLM{steps: []detect.StepResult{step, step, step, step, step, step}}
	searcher := &fakeSearcher{results: []domain.SearchResult{candidate("a", 0.7)}}

	verdict, _, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSimilar, verdict.Status)
	assert.Equal(t, 5, llm.calls)
	assert.Equal(t, 0.7, verdict.SimilarityScore)
	require.Len(t, verdict.Candidates, 1)
	assert.Equal(t, "a", verdict.Candidates[0].ReportID)
}

func TestDetectSearchErrorFailsRun(t *testing.T) {
	llm := &scriptedLLM{steps: []detect.StepResult{
		{ToolCalls: []detect.ToolCall{searchCall("ssrf image proxy fetch")}},
	}}
	searcher := &fakeSearcher{searchErr: errors.New("qdrant unreachable")}

	_, _, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hybrid search")
}

func TestDetectLLMErrorFailsRun(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("overloaded")}

	_, _, err := newDetector(llm, &fakeSearcher{}).Detect(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reasoning step 1")
}

func TestDetectUnknownToolReturnsErrorResult(t *testing.T) {
	bogus := detect.ToolCall{ID: "c1", Name: "read_file", Input: json.RawMessage(`{}`)}
	llm := &scriptedLLM{steps: []detect.StepResult{
		{ToolCalls: []detect.ToolCall{bogus}},
		{Text: `{"is_duplicate": false, "similarity_score": 0.0, "matched_report_id": "", "status": "new", "reasoning": "none found"}`},
	}}

	verdict, _, err := newDetector(llm, &fakeSearcher{}).Detect(context.Background(), testReport())
	require.NoError(t, err)

	require.Len(t, llm.lastMessages, 3)
	results := llm.lastMessages[2].ToolResults
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "Unknown tool")
	assert.Equal(t, domain.StatusNew, verdict.Status)
}

func TestDetectNoResultsObservation(t *testing.T) {
	llm := &scriptedLLM{steps: []detect.StepResult{
		{ToolCalls: []detect.ToolCall{searchCall("ssrf image proxy fetch")}},
		{Text: `{"is_duplicate": false, "similarity_score": 0.0, "matched_report_id": "", "status": "new", "reasoning": "empty corpus"}`},
	}}
	searcher := &fakeSearcher{results: nil}

	_, _, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
	require.NoError(t, err)

	results := llm.lastMessages[2].ToolResults
	require.Len(t, results, 1)
	assert.False(t, results[0].IsError)
	assert.Equal(t, "No results found.", results[0].Content)
}

func TestDetectAccumulatesRunInfo(t *testing.T) {
	llm := &scriptedLLM{steps: []detect.StepResult{
		{
			Text:      "searching",
			ToolCalls: []detect.ToolCall{searchCall("ssrf image proxy metadata endpoint")},
			Usage:     detect.Usage{InputTokens: 100, OutputTokens: 20},
			Cost:      0.01,
		},
		{
			Text:  `{"is_duplicate": false, "similarity_score": 0.2, "matched_report_id": "", "status": "new", "reasoning": "distinct"}`,
			Usage: detect.Usage{InputTokens: 150, OutputTokens: 30},
			Cost:  0.02,
		},
	}}
	searcher := &fakeSearcher{results: []domain.SearchResult{candidate("a", 0.3)}}

	_, info, err := newDetector(llm, searcher).Detect(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, 2, info.Iterations)
	assert.Equal(t, 1, info.Searches)
	assert.Equal(t, 250, info.InputTokens)
	assert.Equal(t, 50, info.OutputTokens)
	assert.InDelta(t, 0.03, info.Cost, 1e-9)
}
