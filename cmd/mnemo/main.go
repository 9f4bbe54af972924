package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bkyoung/mnemosyne/internal/adapter/cli"
	"github.com/bkyoung/mnemosyne/internal/adapter/embed"
	"github.com/bkyoung/mnemosyne/internal/adapter/gitsource"
	"github.com/bkyoung/mnemosyne/internal/adapter/llm/anthropic"
	"github.com/bkyoung/mnemosyne/internal/adapter/observability"
	"github.com/bkyoung/mnemosyne/internal/adapter/qdrant"
	"github.com/bkyoung/mnemosyne/internal/adapter/rerank"
	"github.com/bkyoung/mnemosyne/internal/adapter/store/sqlite"
	"github.com/bkyoung/mnemosyne/internal/adapter/transport"
	"github.com/bkyoung/mnemosyne/internal/config"
	"github.com/bkyoung/mnemosyne/internal/store"
	"github.com/bkyoung/mnemosyne/internal/truncate"
	"github.com/bkyoung/mnemosyne/internal/usecase/detect"
	"github.com/bkyoung/mnemosyne/internal/usecase/ingest"
	"github.com/bkyoung/mnemosyne/internal/usecase/retrieval"
	"github.com/bkyoung/mnemosyne/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run() error {
	// Create cancellable context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: defaultConfigPaths(),
		FileName:    "mnemo",
		EnvPrefix:   "MNEMO",
	})
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	obs := buildObservability(cfg.Observability)
	pipelineLogger := observability.NewPipelineLogger(obs.logger)

	httpTimeout := parseDuration(cfg.HTTP.Timeout, 120*time.Second)

	// Anthropic client drives both normalization and agent reasoning
	llmClient := anthropic.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, obs.logger, obs.metrics)
	llmClient.SetTimeout(httpTimeout)

	truncator := truncate.New(cfg.Truncation.MaxTokens, cfg.Truncation.TokenBuffer)
	normalizer := anthropic.NewNormalizer(llmClient, truncator, obs.logger, cfg.LLM.MaxOutputTokens)
	reasoner := anthropic.NewReasoner(llmClient, cfg.LLM.MaxOutputTokens)

	vectorStore := qdrant.NewClient(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Qdrant.Collection, cfg.Qdrant.VectorSize, obs.logger)
	vectorStore.SetTimeout(httpTimeout)

	embedder := embed.NewOllamaEmbedder(cfg.Embedding.URL, cfg.Embedding.Model)
	encoder := embed.NewSparseEncoder()
	reranker := rerank.NewClient(cfg.Rerank.URL, cfg.Rerank.Model)

	pipeline := retrieval.NewPipeline(embedder, encoder, vectorStore, reranker, pipelineLogger, retrieval.Config{
		TopKCandidates: cfg.Search.TopKCandidates,
		RerankTopK:     cfg.Search.RerankTopK,
		FinalTopK:      cfg.Search.FinalTopK,
	})

	detector := detect.NewDetector(reasoner, pipeline, pipelineLogger, detect.Config{
		MaxIterations:      cfg.Agent.MaxIterations,
		EarlyStopScore:     cfg.Thresholds.EarlyStop,
		MinQueryLength:     cfg.Agent.MinQueryLength,
		DuplicateThreshold: cfg.Thresholds.Duplicate,
		SimilarThreshold:   cfg.Thresholds.Similar,
		DefaultSearchLimit: cfg.Search.TopKCandidates,
		RerankTopK:         cfg.Search.RerankTopK,
	})

	ingestor := ingest.NewIngestor(normalizer, embedder, encoder, vectorStore, pipelineLogger)

	// Initialize run history store if enabled
	var runStore store.Store
	if cfg.Store.Enabled {
		storeDir := filepath.Dir(cfg.Store.Path)
		if err := os.MkdirAll(storeDir, 0755); err != nil {
			log.Printf("warning: failed to create store directory: %v", err)
		} else {
			sqliteStore, err := sqlite.NewStore(cfg.Store.Path)
			if err != nil {
				log.Printf("warning: failed to initialize run store: %v", err)
			} else {
				runStore = sqliteStore
				defer runStore.Close()
			}
		}
	}

	root := cli.NewRootCommand(cli.Dependencies{
		Normalizer: normalizer,
		Detector:   detector,
		Ingestor:   ingestor,
		Searcher:   pipeline,
		Index:      &indexAdapter{client: vectorStore},
		Runs:       runStore,
		GitFetcher: gitsource.NewFetcher(),
		BatchDefaults: ingest.BatchConfig{
			Concurrency: cfg.Batch.Concurrency,
			Delay:       parseDuration(cfg.Batch.Delay, time.Second),
		},
		EffectiveConfig: cfg,
		Version:         version.Value(),
	})

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, cli.ErrVersionRequested) {
			return nil
		}
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mnemo"))
	}
	return paths
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("warning: invalid duration %q, using %s", value, fallback)
		return fallback
	}
	return parsed
}

// observabilityComponents holds shared observability instances
type observabilityComponents struct {
	logger  transport.Logger
	metrics transport.Metrics
}

// buildObservability creates observability components based on configuration.
// Logging always gets a logger so collaborators never see nil; disabling
// logging raises the level to errors only.
func buildObservability(cfg config.ObservabilityConfig) observabilityComponents {
	logLevel := transport.LogLevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = transport.LogLevelDebug
	case "error":
		logLevel = transport.LogLevelError
	}
	if !cfg.Logging.Enabled {
		logLevel = transport.LogLevelError
	}

	logFormat := transport.LogFormatHuman
	if cfg.Logging.Format == "json" {
		logFormat = transport.LogFormatJSON
	}

	var metrics transport.Metrics
	if cfg.Metrics.Enabled {
		metrics = transport.NewDefaultMetrics()
	}

	return observabilityComponents{
		logger:  transport.NewDefaultLogger(logLevel, logFormat, cfg.Logging.RedactAPIKeys),
		metrics: metrics,
	}
}

// indexAdapter maps the vector store client onto the CLI's index port.
type indexAdapter struct {
	client *qdrant.Client
}

func (a *indexAdapter) CheckHealth(ctx context.Context) error {
	return a.client.CheckHealth(ctx)
}

func (a *indexAdapter) EnsureCollection(ctx context.Context) error {
	return a.client.EnsureCollection(ctx)
}

func (a *indexAdapter) Info(ctx context.Context) (cli.IndexInfo, error) {
	info, err := a.client.Info(ctx)
	if err != nil {
		return cli.IndexInfo{}, err
	}
	return cli.IndexInfo{
		Collection: info.Name,
		Exists:     info.Exists,
		Status:     info.Status,
		Points:     info.PointsCount,
	}, nil
}

// Compile-time interface compliance checks
var _ cli.Normalizer = (*anthropic.Normalizer)(nil)
var _ cli.DuplicateDetector = (*detect.Detector)(nil)
var _ cli.Ingestor = (*ingest.Ingestor)(nil)
var _ cli.Searcher = (*retrieval.Pipeline)(nil)
var _ cli.Index = (*indexAdapter)(nil)
var _ cli.GitFetcher = (*gitsource.Fetcher)(nil)
