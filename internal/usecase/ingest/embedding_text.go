package ingest

import (
	"fmt"
	"strings"

	"github.com/bkyoung/mnemosyne/internal/domain"
)

// BuildEmbeddingText flattens a structured report into the single text
// that both the dense embedder and the sparse encoder consume. The
// same function serves indexing and querying so the two sides embed
// comparable text.
func BuildEmbeddingText(r domain.StructuredReport) string {
	parts := []string{
		fmt.Sprintf("Title: %s", r.Title),
		fmt.Sprintf("Summary: %s", r.Summary),
		fmt.Sprintf("Vulnerability Type: %s", r.VulnerabilityType),
		fmt.Sprintf("Severity: %s", r.Severity),
		fmt.Sprintf("Affected Component: %s", r.AffectedComponent),
		fmt.Sprintf("Reproduction Steps: %s", strings.Join(r.ReproductionSteps, " | ")),
	}

	if len(r.TechnicalArtifacts) > 0 {
		lines := make([]string, len(r.TechnicalArtifacts))
		for i, a := range r.TechnicalArtifacts {
			lines[i] = fmt.Sprintf("%s: %s", a.Type, a.Content)
		}
		parts = append(parts, "Technical Artifacts:\n"+strings.Join(lines, "\n"))
	}

	if len(r.Technologies) > 0 {
		parts = append(parts, fmt.Sprintf("Technologies: %s", strings.Join(r.Technologies, ", ")))
	}

	parts = append(parts, fmt.Sprintf("Impact: %s", r.Impact))

	if r.Remediation != "" {
		parts = append(parts, fmt.Sprintf("Remediation: %s", r.Remediation))
	}

	return strings.Join(parts, "\n\n")
}
