package detect

import (
	"fmt"
	"strings"

	"github.com/bkyoung/mnemosyne/internal/domain"
)

// searchToolSpec describes the hybrid_search tool for the model.
func searchToolSpec(maxLimit int) ToolSpec {
	return ToolSpec{
		Name: hybridSearchTool,
		Description: "Search the indexed vulnerability report corpus using hybrid semantic and keyword retrieval. " +
			"Returns re-ranked candidates with relevance scores between 0 and 1. " +
			"Use descriptive queries that combine the vulnerability type, affected component, and attack mechanism.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Descriptive search query (vulnerability type, component, mechanism).",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum candidates to retrieve (default and maximum %d).", maxLimit),
				},
			},
			"required": []string{"query"},
		},
	}
}

// systemPrompt instructs the model how to investigate and how to
// calibrate its similarity scores and status against the decision
// thresholds. The thresholds live here only; the controller takes the
// model's status verbatim.
func systemPrompt(cfg Config) string {
	return fmt.Sprintf(`You are a security analyst triaging bug bounty submissions for duplicates.

You receive a new vulnerability report and must determine whether it duplicates a report already in the corpus. Investigate by calling the %s tool with targeted queries. Vary your queries across searches: try the vulnerability class, the affected component, the attack mechanism, and distinctive technical details. You have at most %d reasoning turns.

A duplicate means the same vulnerability in the same component, even if described differently or found through a different path. Reports of the same vulnerability class in different components are NOT duplicates. Reports with different root causes in the same component are NOT duplicates.

Candidate scores are cross-encoder relevance scores, not verdicts. Interpret them as evidence, then judge the substance yourself.

When you have enough evidence, respond WITHOUT any tool call, giving your verdict as a single JSON object:

{
  "is_duplicate": true or false,
  "similarity_score": 0.0 to 1.0,
  "matched_report_id": "id of the duplicated report, or empty string",
  "status": "duplicate", "similar", or "new",
  "reasoning": "one short paragraph explaining the judgment"
}

Calibrate similarity_score so that %.2f or higher means you are certain it is the same vulnerability (status "duplicate"), between %.2f and %.2f means substantially similar but plausibly distinct (status "similar"), and below %.2f means a different issue (status "new").`,
		hybridSearchTool,
		cfg.MaxIterations,
		cfg.DuplicateThreshold,
		cfg.SimilarThreshold, cfg.DuplicateThreshold,
		cfg.SimilarThreshold)
}

// analysisPrompt renders the new report for the model's first turn.
// Technical artifacts are excerpted, not inlined in full; the model
// searches on their substance, not their byte content.
func analysisPrompt(r domain.StructuredReport) string {
	var sb strings.Builder

	sb.WriteString("Analyze this new vulnerability report for duplicates:\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", r.Title)
	fmt.Fprintf(&sb, "Type: %s\n", r.VulnerabilityType)
	fmt.Fprintf(&sb, "Severity: %s\n", r.Severity)
	fmt.Fprintf(&sb, "Component: %s\n", r.AffectedComponent)
	fmt.Fprintf(&sb, "\nSummary:\n%s\n", r.Summary)

	if len(r.ReproductionSteps) > 0 {
		sb.WriteString("\nReproduction Steps:\n")
		for i, step := range r.ReproductionSteps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
	}

	if len(r.Technologies) > 0 {
		fmt.Fprintf(&sb, "\nTechnologies: %s\n", strings.Join(r.Technologies, ", "))
	}

	if len(r.TechnicalArtifacts) > 0 {
		sb.WriteString("\nTechnical Artifacts:\n")
		artifacts := r.TechnicalArtifacts
		if len(artifacts) > 3 {
			artifacts = artifacts[:3]
		}
		for _, a := range artifacts {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", a.Type, a.Language, excerpt(a.Content, 200))
		}
	}

	if r.Impact != "" {
		fmt.Fprintf(&sb, "\nImpact:\n%s\n", r.Impact)
	}

	return sb.String()
}
