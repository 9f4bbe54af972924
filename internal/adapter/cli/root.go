package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bkyoung/mnemosyne/internal/config"
	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/store"
	"github.com/bkyoung/mnemosyne/internal/usecase/detect"
	"github.com/bkyoung/mnemosyne/internal/usecase/ingest"
)

// ErrVersionRequested indicates the user requested the CLI version and no further work should be done.
var ErrVersionRequested = errors.New("version requested")

// Normalizer turns raw report text into a structured report.
type Normalizer interface {
	Normalize(ctx context.Context, rawText string) (domain.StructuredReport, error)
}

// DuplicateDetector runs the detection agent over a normalized report.
type DuplicateDetector interface {
	Detect(ctx context.Context, report domain.StructuredReport) (domain.DetectionVerdict, detect.RunInfo, error)
}

// Ingestor indexes raw reports into the vector store.
type Ingestor interface {
	Ingest(ctx context.Context, rawText string) (domain.IngestionResult, error)
	IngestDirectory(ctx context.Context, dir string, cfg ingest.BatchConfig) (ingest.BatchSummary, error)
}

// Searcher runs the full retrieval funnel for ad-hoc queries.
type Searcher interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// IndexInfo describes the state of the vector collection.
type IndexInfo struct {
	Collection string
	Exists     bool
	Status     string
	Points     int
}

// Index manages the vector collection lifecycle.
type Index interface {
	CheckHealth(ctx context.Context) error
	EnsureCollection(ctx context.Context) error
	Info(ctx context.Context) (IndexInfo, error)
}

// GitFetcher clones a remote corpus for batch ingestion.
type GitFetcher interface {
	Fetch(ctx context.Context, url string) (string, func(), error)
}

// Arguments encapsulates IO writers injected from the host process.
type Arguments struct {
	OutWriter io.Writer
	ErrWriter io.Writer
}

// Dependencies captures the collaborators for the CLI.
type Dependencies struct {
	Normalizer      Normalizer
	Detector        DuplicateDetector
	Ingestor        Ingestor
	Searcher        Searcher
	Index           Index
	Runs            store.Store // nil when run history is disabled
	GitFetcher      GitFetcher
	Args            Arguments
	BatchDefaults   ingest.BatchConfig
	EffectiveConfig config.Config
	Version         string
}

// NewRootCommand constructs the root Cobra command.
func NewRootCommand(deps Dependencies) *cobra.Command {
	versionString := deps.Version
	if versionString == "" {
		versionString = "v0.0.0"
	}

	root := &cobra.Command{
		Use:   "mnemo",
		Short: "Bug bounty duplicate report detection CLI",
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	outWriter := deps.Args.OutWriter
	if outWriter == nil {
		outWriter = os.Stdout
	}
	errWriter := deps.Args.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}
	root.SetOut(outWriter)
	root.SetErr(errWriter)

	if outWriter == os.Stdout && !IsOutputTerminal() {
		color.NoColor = true
	}

	root.AddCommand(initCommand(deps.Index))
	root.AddCommand(ingestCommand(deps.Ingestor, deps.GitFetcher, deps.BatchDefaults))
	root.AddCommand(scanCommand(deps.Normalizer, deps.Detector, deps.Runs))
	root.AddCommand(searchCommand(deps.Searcher))
	root.AddCommand(statsCommand(deps.Index, deps.Runs))
	root.AddCommand(historyCommand(deps.Runs))
	root.AddCommand(configCommand(deps.EffectiveConfig))

	var showVersion bool
	root.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")
	versionHandler := func(cmd *cobra.Command, args []string) error {
		if showVersion {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), versionString)
			return ErrVersionRequested
		}
		return nil
	}
	root.PersistentPreRunE = versionHandler
	root.PreRunE = versionHandler
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if err := versionHandler(cmd, args); err != nil {
			return err
		}
		return cmd.Help()
	}

	return root
}

func initCommand(index Index) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the vector collection and verify connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if err := index.CheckHealth(ctx); err != nil {
				return fmt.Errorf("vector store not reachable: %w", err)
			}
			_, _ = fmt.Fprintln(out, "vector store: reachable")

			if err := index.EnsureCollection(ctx); err != nil {
				return fmt.Errorf("ensure collection: %w", err)
			}

			info, err := index.Info(ctx)
			if err != nil {
				return fmt.Errorf("collection info: %w", err)
			}
			_, _ = fmt.Fprintf(out, "collection %q: ready (%d reports indexed)\n", info.Collection, info.Points)
			return nil
		},
	}
}

func searchCommand(searcher Searcher) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed reports with the hybrid retrieval funnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := searcher.Search(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				_, _ = fmt.Fprintln(out, "No matching reports found.")
				return nil
			}
			for i, r := range results {
				_, _ = fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Score, r.Report.Title)
				_, _ = fmt.Fprintf(out, "   %s in %s\n", r.Report.VulnerabilityType, r.Report.AffectedComponent)
				_, _ = fmt.Fprintf(out, "   id: %s\n", r.ReportID)
			}
			return nil
		},
	}
}

func statsCommand(index Index, runs store.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index and run history statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			info, err := index.Info(ctx)
			if err != nil {
				return fmt.Errorf("collection info: %w", err)
			}
			_, _ = fmt.Fprintf(out, "collection: %s\n", info.Collection)
			_, _ = fmt.Fprintf(out, "status:     %s\n", info.Status)
			_, _ = fmt.Fprintf(out, "reports:    %d\n", info.Points)

			if runs == nil {
				return nil
			}
			stats, err := runs.Stats(ctx)
			if err != nil {
				return fmt.Errorf("run stats: %w", err)
			}
			_, _ = fmt.Fprintf(out, "\nscans:      %d\n", stats.TotalRuns)
			_, _ = fmt.Fprintf(out, "duplicates: %d\n", stats.Duplicates)
			_, _ = fmt.Fprintf(out, "similar:    %d\n", stats.Similar)
			_, _ = fmt.Fprintf(out, "new:        %d\n", stats.New)
			_, _ = fmt.Fprintf(out, "total cost: $%.4f\n", stats.TotalCost)
			return nil
		},
	}
}

func historyCommand(runs store.Store) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent detection runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs == nil {
				return fmt.Errorf("run history is disabled; enable store in configuration")
			}

			entries, err := runs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}
			for _, run := range entries {
				_, _ = fmt.Fprintf(out, "%s  %-9s  %.3f  %s\n",
					run.Timestamp.Format("2006-01-02 15:04"), statusLabel(run.Status), run.SimilarityScore, run.ReportTitle)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	return cmd
}

func configCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			redacted := cfg
			redacted.LLM.APIKey = maskSecret(cfg.LLM.APIKey)
			redacted.Qdrant.APIKey = maskSecret(cfg.Qdrant.APIKey)

			encoded, err := yaml.Marshal(redacted)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, _ = cmd.OutOrStdout().Write(encoded)
			return nil
		},
	}
}

// maskSecret hides all but the last four characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "[REDACTED]"
	}
	return "[REDACTED-" + s[len(s)-4:] + "]"
}

func statusLabel(status string) string {
	switch status {
	case domain.StatusDuplicate:
		return color.RedString("DUPLICATE")
	case domain.StatusSimilar:
		return color.YellowString("SIMILAR")
	case domain.StatusNew:
		return color.GreenString("NEW")
	default:
		return status
	}
}
