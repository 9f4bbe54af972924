package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// LoaderOptions describes how configuration should be discovered.
type LoaderOptions struct {
	ConfigPaths []string
	FileName    string
	EnvPrefix   string
}

// Load returns the merged configuration from files and environment variables.
func Load(opts LoaderOptions) (Config, error) {
	v := viper.New()

	name := opts.FileName
	if name == "" {
		name = "mnemo"
	}

	configFile := locateConfigFile(name, opts.ConfigPaths)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(name)
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "MNEMO"
	}
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)

	setDefaults(v)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Expand environment variables in config values
	cfg = expandEnvVars(cfg)

	return cfg, nil
}

// expandEnvVars expands ${VAR} and $VAR syntax in configuration strings.
func expandEnvVars(cfg Config) Config {
	// Expand LLM config
	cfg.LLM.Model = expandEnvString(cfg.LLM.Model)
	cfg.LLM.APIKey = expandEnvString(cfg.LLM.APIKey)

	// Expand HTTP config
	cfg.HTTP.Timeout = expandEnvString(cfg.HTTP.Timeout)
	cfg.HTTP.InitialBackoff = expandEnvString(cfg.HTTP.InitialBackoff)
	cfg.HTTP.MaxBackoff = expandEnvString(cfg.HTTP.MaxBackoff)

	// Expand qdrant config
	cfg.Qdrant.URL = expandEnvString(cfg.Qdrant.URL)
	cfg.Qdrant.APIKey = expandEnvString(cfg.Qdrant.APIKey)
	cfg.Qdrant.Collection = expandEnvString(cfg.Qdrant.Collection)

	// Expand embedding config
	cfg.Embedding.URL = expandEnvString(cfg.Embedding.URL)
	cfg.Embedding.Model = expandEnvString(cfg.Embedding.Model)

	// Expand rerank config
	cfg.Rerank.URL = expandEnvString(cfg.Rerank.URL)
	cfg.Rerank.Model = expandEnvString(cfg.Rerank.Model)

	// Expand batch config
	cfg.Batch.Delay = expandEnvString(cfg.Batch.Delay)

	// Expand store config
	cfg.Store.Path = expandEnvString(cfg.Store.Path)

	// Expand observability config
	cfg.Observability.Logging.Level = expandEnvString(cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = expandEnvString(cfg.Observability.Logging.Format)

	return cfg
}

// expandEnvString replaces ${VAR} or $VAR with environment variable values
// and expands a leading tilde to the user's home directory.
func expandEnvString(s string) string {
	if s == "" {
		return s
	}

	// Expand leading tilde. An escaped tilde stays literal.
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = home + s[1:]
		}
	}

	// Replace ${VAR} syntax
	re := regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1] // Remove ${ and }
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Keep original if not found
	})

	// Replace $VAR syntax (without braces)
	re = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:] // Remove $
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Keep original if not found
	})

	return s
}

func locateConfigFile(name string, paths []string) string {
	searchPaths := append([]string{}, paths...)
	searchPaths = append(searchPaths, ".")
	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name+".yaml")
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.apiKey", "${ANTHROPIC_API_KEY}")
	v.SetDefault("llm.maxOutputTokens", 4096)

	// HTTP defaults
	v.SetDefault("http.timeout", "120s")
	v.SetDefault("http.maxRetries", 5)
	v.SetDefault("http.initialBackoff", "2s")
	v.SetDefault("http.maxBackoff", "32s")
	v.SetDefault("http.backoffMultiplier", 2.0)

	// Qdrant defaults
	v.SetDefault("qdrant.url", "http://localhost:6333")
	v.SetDefault("qdrant.collection", "security_reports")
	v.SetDefault("qdrant.vectorSize", 1024)

	// Embedding defaults
	v.SetDefault("embedding.url", "http://localhost:11434")
	v.SetDefault("embedding.model", "bge-large")

	// Rerank defaults
	v.SetDefault("rerank.url", "http://localhost:8787")
	v.SetDefault("rerank.model", "ms-marco-TinyBERT-L-2-v2")

	// Search funnel defaults
	v.SetDefault("search.topKCandidates", 20)
	v.SetDefault("search.rerankTopK", 10)
	v.SetDefault("search.finalTopK", 5)

	// Threshold defaults
	v.SetDefault("thresholds.duplicate", 0.85)
	v.SetDefault("thresholds.similar", 0.65)
	v.SetDefault("thresholds.earlyStop", 0.9)

	// Truncation defaults
	v.SetDefault("truncation.maxTokens", 180000)
	v.SetDefault("truncation.tokenBuffer", 20000)

	// Agent defaults
	v.SetDefault("agent.maxIterations", 5)
	v.SetDefault("agent.minQueryLength", 5)

	// Batch ingestion defaults
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.delay", "1s")

	// Store defaults
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", defaultStorePath())

	// Observability defaults
	v.SetDefault("observability.logging.enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "human")
	v.SetDefault("observability.logging.redactAPIKeys", true)
	v.SetDefault("observability.metrics.enabled", true)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./runs.db"
	}
	return filepath.Join(home, ".config", "mnemo", "runs.db")
}
