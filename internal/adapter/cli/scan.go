package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/store"
)

// scanOutput is the machine-readable shape emitted with --json.
type scanOutput struct {
	Status          string                `json:"status"`
	IsDuplicate     bool                  `json:"is_duplicate"`
	SimilarityScore float64               `json:"similarity_score"`
	MatchedReportID string                `json:"matched_report_id,omitempty"`
	Title           string                `json:"title"`
	Candidates      []domain.CandidateRef `json:"candidates,omitempty"`
}

func scanCommand(normalizer Normalizer, detector DuplicateDetector, runs store.Store) *cobra.Command {
	var showCandidates bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Scan a report for duplicates with the detection agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}
			rawText := string(raw)

			report, err := normalizer.Normalize(ctx, rawText)
			if err != nil {
				return fmt.Errorf("normalize report: %w", err)
			}

			verdict, info, err := detector.Detect(ctx, report)
			if err != nil {
				return fmt.Errorf("detect duplicates: %w", err)
			}

			if runs != nil {
				run := store.Run{
					RunID:           uuid.NewString(),
					Timestamp:       time.Now().UTC(),
					ReportID:        domain.ReportID(rawText),
					ReportTitle:     report.Title,
					Status:          verdict.Status,
					IsDuplicate:     verdict.IsDuplicate,
					SimilarityScore: verdict.SimilarityScore,
					MatchedReportID: verdict.MatchedReportID,
					Iterations:      info.Iterations,
					InputTokens:     info.InputTokens,
					OutputTokens:    info.OutputTokens,
					Cost:            info.Cost,
					Candidates:      verdict.Candidates,
				}
				if err := runs.SaveRun(ctx, run); err != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to record run: %v\n", err)
				}
			}

			if jsonOutput {
				encoded, err := json.MarshalIndent(scanOutput{
					Status:          verdict.Status,
					IsDuplicate:     verdict.IsDuplicate,
					SimilarityScore: verdict.SimilarityScore,
					MatchedReportID: verdict.MatchedReportID,
					Title:           report.Title,
					Candidates:      verdict.Candidates,
				}, "", "  ")
				if err != nil {
					return fmt.Errorf("encode result: %w", err)
				}
				_, _ = fmt.Fprintln(out, string(encoded))
				return nil
			}

			printVerdict(cmd, report, verdict, showCandidates)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showCandidates, "show-candidates", false, "Show all candidates found during the search")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the verdict as JSON")
	return cmd
}

func printVerdict(cmd *cobra.Command, report domain.StructuredReport, verdict domain.DetectionVerdict, showCandidates bool) {
	out := cmd.OutOrStdout()

	_, _ = fmt.Fprintf(out, "%s  %s\n", statusLabel(verdict.Status), report.Title)
	_, _ = fmt.Fprintf(out, "%s in %s\n\n", report.VulnerabilityType, report.AffectedComponent)
	_, _ = fmt.Fprintf(out, "similarity score: %.3f\n", verdict.SimilarityScore)

	if verdict.MatchedReportID != "" {
		_, _ = fmt.Fprintf(out, "matched report:   %s\n", verdict.MatchedReportID)
		if verdict.MatchedReport != nil {
			_, _ = fmt.Fprintf(out, "matched title:    %s\n", verdict.MatchedReport.Title)
			_, _ = fmt.Fprintf(out, "matched type:     %s in %s\n",
				verdict.MatchedReport.VulnerabilityType, verdict.MatchedReport.AffectedComponent)
		}
	}

	if showCandidates && len(verdict.Candidates) > 0 {
		_, _ = fmt.Fprintf(out, "\ncandidates:\n")
		for _, c := range verdict.Candidates {
			_, _ = fmt.Fprintf(out, "  %.3f  %s (%s)\n", c.Score, c.Title, c.ReportID)
		}
	}

	_, _ = fmt.Fprintln(out)
	switch verdict.Status {
	case domain.StatusDuplicate:
		_, _ = fmt.Fprintln(out, color.RedString("This report appears to be a duplicate. Review the matched report before submitting."))
	case domain.StatusSimilar:
		_, _ = fmt.Fprintln(out, color.YellowString("Similar reports found. Confirm this is a distinct finding before submitting."))
	default:
		_, _ = fmt.Fprintln(out, color.GreenString("This appears to be a new, unique report."))
	}
}
