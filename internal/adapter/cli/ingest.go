package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bkyoung/mnemosyne/internal/usecase/ingest"
)

func ingestCommand(ingestor Ingestor, fetcher GitFetcher, defaults ingest.BatchConfig) *cobra.Command {
	var gitURL string
	var concurrency int
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Index historical reports from a file, directory, or git repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			batchCfg := defaults
			if cmd.Flags().Changed("concurrency") {
				batchCfg.Concurrency = concurrency
			}
			if cmd.Flags().Changed("delay") {
				batchCfg.Delay = delay
			}

			if gitURL != "" {
				if len(args) > 0 {
					return fmt.Errorf("pass either a local path or --git, not both")
				}
				if fetcher == nil {
					return fmt.Errorf("git ingestion is not available")
				}
				dir, cleanup, err := fetcher.Fetch(ctx, gitURL)
				if err != nil {
					return fmt.Errorf("clone corpus: %w", err)
				}
				defer cleanup()
				return runBatch(cmd, ingestor, dir, batchCfg)
			}

			if len(args) == 0 {
				return fmt.Errorf("report path not specified; pass a file or directory, or use --git")
			}

			path := args[0]
			fileInfo, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if fileInfo.IsDir() {
				return runBatch(cmd, ingestor, path, batchCfg)
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}
			result, err := ingestor.Ingest(ctx, string(raw))
			if err != nil {
				return fmt.Errorf("ingest report: %w", err)
			}
			if result.AlreadyExists {
				_, _ = fmt.Fprintf(out, "already indexed: %s\n", result.ReportID)
				return nil
			}
			_, _ = fmt.Fprintf(out, "indexed: %s\n", result.ReportID)
			return nil
		},
	}

	cmd.Flags().StringVar(&gitURL, "git", "", "Clone and ingest reports from a git repository URL")
	cmd.Flags().IntVar(&concurrency, "concurrency", defaults.Concurrency, "Number of reports to process concurrently")
	cmd.Flags().DurationVar(&delay, "delay", defaults.Delay, "Delay between report submissions")
	return cmd
}

func runBatch(cmd *cobra.Command, ingestor Ingestor, dir string, cfg ingest.BatchConfig) error {
	summary, err := ingestor.IngestDirectory(cmd.Context(), dir, cfg)
	if err != nil {
		return fmt.Errorf("ingest directory: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "processed %d reports: %d indexed, %d skipped, %d failed\n",
		summary.Total, summary.Indexed, summary.Skipped, summary.Failed)

	for _, r := range summary.Results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %v\n", r.Path, r.Err)
		}
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d reports failed to ingest", summary.Failed, summary.Total)
	}
	return nil
}
