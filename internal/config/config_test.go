package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bkyoung/mnemosyne/internal/config"
)

func TestMergePrioritizesLaterConfigs(t *testing.T) {
	base := config.Config{
		Qdrant: config.QdrantConfig{Collection: "default"},
	}
	file := config.Config{
		Qdrant: config.QdrantConfig{Collection: "file"},
	}
	final := config.Config{
		Qdrant: config.QdrantConfig{Collection: "env"},
	}

	merged := config.Merge(base, file, final)

	if merged.Qdrant.Collection != "env" {
		t.Fatalf("expected env collection to win, got %s", merged.Qdrant.Collection)
	}
}

func TestMergeKeepsBaseFieldsNotOverridden(t *testing.T) {
	base := config.Config{
		Qdrant: config.QdrantConfig{
			URL:        "http://localhost:6333",
			Collection: "security_reports",
			VectorSize: 1024,
		},
	}
	overlay := config.Config{
		Qdrant: config.QdrantConfig{Collection: "staging_reports"},
	}

	merged := config.Merge(base, overlay)

	if merged.Qdrant.Collection != "staging_reports" {
		t.Fatalf("expected overlay collection, got %s", merged.Qdrant.Collection)
	}
	if merged.Qdrant.URL != "http://localhost:6333" {
		t.Fatalf("expected base URL to survive, got %s", merged.Qdrant.URL)
	}
	if merged.Qdrant.VectorSize != 1024 {
		t.Fatalf("expected base vector size to survive, got %d", merged.Qdrant.VectorSize)
	}
}

func TestLoadReadsFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mnemo.yaml")
	if err := os.WriteFile(file, []byte("qdrant:\n  collection: file\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("MNEMO_QDRANT_COLLECTION", "env")

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: []string{dir},
		FileName:    "mnemo",
		EnvPrefix:   "MNEMO",
	})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if cfg.Qdrant.Collection != "env" {
		t.Fatalf("expected env override, got %s", cfg.Qdrant.Collection)
	}
}

func TestSearchAndThresholdDefaults(t *testing.T) {
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: []string{},
		FileName:    "nonexistent",
		EnvPrefix:   "MNEMO",
	})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if cfg.Search.TopKCandidates != 20 {
		t.Errorf("expected default topKCandidates 20, got %d", cfg.Search.TopKCandidates)
	}
	if cfg.Search.RerankTopK != 10 {
		t.Errorf("expected default rerankTopK 10, got %d", cfg.Search.RerankTopK)
	}
	if cfg.Search.FinalTopK != 5 {
		t.Errorf("expected default finalTopK 5, got %d", cfg.Search.FinalTopK)
	}
	if cfg.Thresholds.Duplicate != 0.85 {
		t.Errorf("expected default duplicate threshold 0.85, got %v", cfg.Thresholds.Duplicate)
	}
	if cfg.Thresholds.Similar != 0.65 {
		t.Errorf("expected default similar threshold 0.65, got %v", cfg.Thresholds.Similar)
	}
	if cfg.Thresholds.EarlyStop != 0.9 {
		t.Errorf("expected default early stop 0.9, got %v", cfg.Thresholds.EarlyStop)
	}
	if cfg.Truncation.MaxTokens != 180000 {
		t.Errorf("expected default maxTokens 180000, got %d", cfg.Truncation.MaxTokens)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("expected default maxIterations 5, got %d", cfg.Agent.MaxIterations)
	}
}

func TestObservabilityConfigDefaults(t *testing.T) {
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: []string{},
		FileName:    "nonexistent",
		EnvPrefix:   "MNEMO",
	})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if !cfg.Observability.Logging.Enabled {
		t.Error("expected logging to be enabled by default")
	}
	if cfg.Observability.Logging.Level != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.Logging.Level)
	}
	if cfg.Observability.Logging.Format != "human" {
		t.Errorf("expected default log format 'human', got %s", cfg.Observability.Logging.Format)
	}
	if !cfg.Observability.Logging.RedactAPIKeys {
		t.Error("expected API key redaction to be enabled by default")
	}
	if !cfg.Observability.Metrics.Enabled {
		t.Error("expected metrics to be enabled by default")
	}
}

func TestObservabilityConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mnemo.yaml")
	content := `
observability:
  logging:
    enabled: false
    level: debug
    format: json
    redactAPIKeys: false
  metrics:
    enabled: false
`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: []string{dir},
		FileName:    "mnemo",
		EnvPrefix:   "MNEMO",
	})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if cfg.Observability.Logging.Enabled {
		t.Error("expected logging to be disabled")
	}
	if cfg.Observability.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.Logging.Level)
	}
	if cfg.Observability.Logging.Format != "json" {
		t.Errorf("expected log format 'json', got %s", cfg.Observability.Logging.Format)
	}
	if cfg.Observability.Metrics.Enabled {
		t.Error("expected metrics to be disabled")
	}
}

func TestLoadReadsServiceEndpoints(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mnemo.yaml")
	content := `
llm:
  model: claude-3-5-haiku-20241022
  maxOutputTokens: 2048
embedding:
  url: http://embeddings.internal:11434
  model: bge-m3
rerank:
  url: http://rerank.internal:8787
batch:
  concurrency: 5
  delay: 250ms
`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPaths: []string{dir},
		FileName:    "mnemo",
		EnvPrefix:   "MNEMO",
	})
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if cfg.LLM.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("unexpected model: %s", cfg.LLM.Model)
	}
	if cfg.LLM.MaxOutputTokens != 2048 {
		t.Errorf("unexpected maxOutputTokens: %d", cfg.LLM.MaxOutputTokens)
	}
	if cfg.Embedding.URL != "http://embeddings.internal:11434" {
		t.Errorf("unexpected embedding url: %s", cfg.Embedding.URL)
	}
	if cfg.Embedding.Model != "bge-m3" {
		t.Errorf("unexpected embedding model: %s", cfg.Embedding.Model)
	}
	if cfg.Rerank.URL != "http://rerank.internal:8787" {
		t.Errorf("unexpected rerank url: %s", cfg.Rerank.URL)
	}
	if cfg.Batch.Concurrency != 5 {
		t.Errorf("unexpected batch concurrency: %d", cfg.Batch.Concurrency)
	}
	if cfg.Batch.Delay != "250ms" {
		t.Errorf("unexpected batch delay: %s", cfg.Batch.Delay)
	}
}
