package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bkyoung/mnemosyne/internal/domain"
)

// hybridSearchTool is the single tool exposed to the reasoning model.
const hybridSearchTool = "hybrid_search"

// Detector runs the duplicate-detection agent loop.
type Detector struct {
	llm      ReasoningClient
	searcher Searcher
	logger   Logger
	config   Config
}

// NewDetector creates a detector. All collaborators are required.
func NewDetector(llm ReasoningClient, searcher Searcher, logger Logger, config Config) *Detector {
	return &Detector{
		llm:      llm,
		searcher: searcher,
		logger:   logger,
		config:   config,
	}
}

// searchInput is the hybrid_search tool's input shape.
type searchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// runState accumulates per-run evidence. It lives on the stack of a
// single Detect call; concurrent detections never share state.
type runState struct {
	lastReranked []domain.SearchResult
	seen         map[string]domain.SearchResult
	searches     int
}

// RunInfo summarizes what one detection run consumed.
type RunInfo struct {
	Iterations   int
	Searches     int
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// Detect investigates one report and returns a verdict. Transport
// failures of the reasoning model or the dense retrieval path fail the
// run; everything else degrades into a best-effort verdict.
func (d *Detector) Detect(ctx context.Context, report domain.StructuredReport) (domain.DetectionVerdict, RunInfo, error) {
	system := systemPrompt(d.config)
	tools := []ToolSpec{searchToolSpec(d.config.DefaultSearchLimit)}
	messages := []Message{{Role: RoleUser, Text: analysisPrompt(report)}}

	state := &runState{seen: make(map[string]domain.SearchResult)}
	var info RunInfo

	for i := 0; i < d.config.MaxIterations; i++ {
		if ctx.Err() != nil {
			return domain.DetectionVerdict{}, info, ctx.Err()
		}

		step, err := d.llm.Step(ctx, system, tools, messages)
		if err != nil {
			return domain.DetectionVerdict{}, info, fmt.Errorf("reasoning step %d: %w", i+1, err)
		}

		info.Iterations = i + 1
		info.InputTokens += step.Usage.InputTokens
		info.OutputTokens += step.Usage.OutputTokens
		info.Cost += step.Cost

		d.logger.Info(ctx, "reasoning step complete", map[string]interface{}{
			"iteration":     i + 1,
			"tool_calls":    len(step.ToolCalls),
			"stop_reason":   step.StopReason,
			"input_tokens":  step.Usage.InputTokens,
			"output_tokens": step.Usage.OutputTokens,
		})

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Text:      step.Text,
			ToolCalls: step.ToolCalls,
		})

		if len(step.ToolCalls) == 0 {
			// Final answer turn.
			info.Searches = state.searches
			return d.parseFinalAnswer(step.Text, state), info, nil
		}

		results := make([]ToolResult, 0, len(step.ToolCalls))
		for _, call := range step.ToolCalls {
			result, verdict, done, err := d.executeToolCall(ctx, call, state)
			if err != nil {
				info.Searches = state.searches
				return domain.DetectionVerdict{}, info, err
			}
			if done {
				info.Searches = state.searches
				return verdict, info, nil
			}
			results = append(results, result)
		}

		messages = append(messages, Message{Role: RoleUser, ToolResults: results})
	}

	// Iteration cap reached without a final answer. The agent searched
	// but never concluded, so classify as similar with what was found.
	d.logger.Warn(ctx, "iteration cap reached without verdict", map[string]interface{}{
		"iterations": d.config.MaxIterations,
		"searches":   state.searches,
	})
	verdict := domain.DetectionVerdict{
		Status:     domain.StatusSimilar,
		Candidates: state.candidateRefs(),
	}
	if len(state.lastReranked) > 0 {
		verdict.SimilarityScore = state.lastReranked[0].Score
	}
	info.Searches = state.searches
	return verdict, info, nil
}

// executeToolCall validates and runs one tool call. A high-confidence
// top match short-circuits the run: done=true with a synthesized
// duplicate verdict.
func (d *Detector) executeToolCall(ctx context.Context, call ToolCall, state *runState) (ToolResult, domain.DetectionVerdict, bool, error) {
	if call.Name != hybridSearchTool {
		return ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Unknown tool: %s. Only %s is available.", call.Name, hybridSearchTool),
			IsError: true,
		}, domain.DetectionVerdict{}, false, nil
	}

	var input searchInput
	if err := json.Unmarshal(call.Input, &input); err != nil {
		return ToolResult{
			CallID:  call.ID,
			Content: fmt.Sprintf("Invalid tool input: %v", err),
			IsError: true,
		}, domain.DetectionVerdict{}, false, nil
	}

	if len(strings.TrimSpace(input.Query)) < d.config.MinQueryLength {
		return ToolResult{
			CallID: call.ID,
			Content: fmt.Sprintf(
				"Query too short (minimum %d characters). Provide a descriptive search query covering the vulnerability type, affected component, and attack mechanism.",
				d.config.MinQueryLength),
			IsError: true,
		}, domain.DetectionVerdict{}, false, nil
	}

	limit := input.Limit
	if limit <= 0 || limit > d.config.DefaultSearchLimit {
		limit = d.config.DefaultSearchLimit
	}

	candidates, err := d.searcher.HybridSearch(ctx, input.Query, limit)
	if err != nil {
		return ToolResult{}, domain.DetectionVerdict{}, false, fmt.Errorf("hybrid search: %w", err)
	}

	topK := d.config.RerankTopK
	if len(candidates) < topK {
		topK = len(candidates)
	}
	reranked := d.searcher.RerankResults(ctx, input.Query, candidates, topK)

	state.searches++
	state.lastReranked = reranked
	for _, r := range reranked {
		if _, ok := state.seen[r.ReportID]; !ok {
			state.seen[r.ReportID] = r
		}
	}

	if len(reranked) > 0 && reranked[0].Score > d.config.EarlyStopScore && reranked[0].ReportID != "" {
		top := reranked[0]
		d.logger.Info(ctx, "early stop on high-confidence match", map[string]interface{}{
			"matched_report_id": top.ReportID,
			"score":             top.Score,
		})
		matched := top.Report
		return ToolResult{}, domain.DetectionVerdict{
			IsDuplicate:     true,
			SimilarityScore: top.Score,
			MatchedReportID: top.ReportID,
			MatchedReport:   &matched,
			Status:          domain.StatusDuplicate,
			Candidates:      state.candidateRefs(),
		}, true, nil
	}

	return ToolResult{CallID: call.ID, Content: formatObservation(reranked)}, domain.DetectionVerdict{}, false, nil
}

// finalAnswer is the JSON shape the model is instructed to emit. The
// model decides the status itself; the thresholds in the system prompt
// calibrate its judgment but are not re-applied here.
type finalAnswer struct {
	IsDuplicate     bool    `json:"is_duplicate"`
	SimilarityScore float64 `json:"similarity_score"`
	MatchedReportID string  `json:"matched_report_id"`
	Status          string  `json:"status"`
	Reasoning       string  `json:"reasoning"`
}

// parseFinalAnswer extracts the verdict JSON from the model's final
// text. Unparseable output falls back to a zero-score "new" verdict
// rather than failing the run.
func (d *Detector) parseFinalAnswer(text string, state *runState) domain.DetectionVerdict {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return domain.DetectionVerdict{Status: domain.StatusNew, Candidates: state.candidateRefs()}
	}

	var answer finalAnswer
	if err := json.Unmarshal([]byte(text[start:end+1]), &answer); err != nil {
		return domain.DetectionVerdict{Status: domain.StatusNew, Candidates: state.candidateRefs()}
	}

	verdict := domain.DetectionVerdict{
		IsDuplicate:     answer.IsDuplicate,
		SimilarityScore: answer.SimilarityScore,
		MatchedReportID: answer.MatchedReportID,
		Candidates:      state.candidateRefs(),
	}

	switch answer.Status {
	case domain.StatusDuplicate, domain.StatusSimilar, domain.StatusNew:
		verdict.Status = answer.Status
	default:
		verdict.Status = domain.StatusNew
	}

	if answer.MatchedReportID != "" {
		if match, ok := state.seen[answer.MatchedReportID]; ok {
			report := match.Report
			verdict.MatchedReport = &report
		}
	}

	return verdict
}

// formatObservation renders re-ranked candidates as the tool result
// the model reads on its next turn.
func formatObservation(results []domain.SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d candidates:\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. [Score: %.3f] %s\n", i+1, r.Score, r.Report.Title)
		fmt.Fprintf(&sb, "   Type: %s\n", r.Report.VulnerabilityType)
		fmt.Fprintf(&sb, "   Component: %s\n", r.Report.AffectedComponent)
		fmt.Fprintf(&sb, "   Summary: %s\n", excerpt(r.Report.Summary, 150))
		fmt.Fprintf(&sb, "   Report ID: %s\n", r.ReportID)
	}
	return sb.String()
}

func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// candidateRefs returns every candidate seen during the run, best
// score first.
func (s *runState) candidateRefs() []domain.CandidateRef {
	refs := make([]domain.CandidateRef, 0, len(s.seen))
	for _, r := range s.seen {
		refs = append(refs, domain.CandidateRef{
			ReportID: r.ReportID,
			Score:    r.Score,
			Title:    r.Report.Title,
			Type:     r.Report.VulnerabilityType,
		})
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Score > refs[j].Score
	})
	return refs
}
