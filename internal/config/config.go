package config

// Config represents the full application configuration.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	HTTP          HTTPConfig          `yaml:"http"`
	Qdrant        QdrantConfig        `yaml:"qdrant"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Rerank        RerankConfig        `yaml:"rerank"`
	Search        SearchConfig        `yaml:"search"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Truncation    TruncationConfig    `yaml:"truncation"`
	Agent         AgentConfig         `yaml:"agent"`
	Batch         BatchConfig         `yaml:"batch"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LLMConfig configures the Anthropic client used for normalization and
// the detection agent.
type LLMConfig struct {
	Model           string `yaml:"model"`
	APIKey          string `yaml:"apiKey"`
	MaxOutputTokens int    `yaml:"maxOutputTokens"`
}

// HTTPConfig holds global HTTP client settings.
type HTTPConfig struct {
	Timeout           string  `yaml:"timeout"`
	MaxRetries        int     `yaml:"maxRetries"`
	InitialBackoff    string  `yaml:"initialBackoff"`
	MaxBackoff        string  `yaml:"maxBackoff"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"apiKey"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vectorSize"`
}

// EmbeddingConfig configures the dense embedding service.
type EmbeddingConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// RerankConfig configures the cross-encoder re-ranking service.
type RerankConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// SearchConfig controls the retrieval funnel sizes.
type SearchConfig struct {
	// TopKCandidates is the number of candidates retrieved per vector search
	// before fusion and re-ranking.
	TopKCandidates int `yaml:"topKCandidates"`

	// RerankTopK is how many fused candidates are passed to the cross-encoder.
	RerankTopK int `yaml:"rerankTopK"`

	// FinalTopK is the number of results returned to callers.
	FinalTopK int `yaml:"finalTopK"`
}

// ThresholdsConfig holds the similarity score cutoffs used to classify reports.
type ThresholdsConfig struct {
	// Duplicate is the minimum score for a confident duplicate verdict.
	Duplicate float64 `yaml:"duplicate"`

	// Similar is the minimum score for a "similar, needs review" verdict.
	Similar float64 `yaml:"similar"`

	// EarlyStop short-circuits the agent loop when a re-ranked candidate
	// scores strictly above this value.
	EarlyStop float64 `yaml:"earlyStop"`
}

// TruncationConfig controls budget-aware report truncation.
type TruncationConfig struct {
	MaxTokens   int `yaml:"maxTokens"`
	TokenBuffer int `yaml:"tokenBuffer"`
}

// AgentConfig configures the detection agent loop.
type AgentConfig struct {
	// MaxIterations caps the number of reasoning steps per detection run.
	MaxIterations int `yaml:"maxIterations"`

	// MinQueryLength rejects degenerate search queries from the agent.
	MinQueryLength int `yaml:"minQueryLength"`
}

// BatchConfig configures directory ingestion.
type BatchConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Delay       string `yaml:"delay"`
}

// StoreConfig configures the run history persistence layer.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures request/response logging.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Level         string `yaml:"level"`         // debug, info, error
	Format        string `yaml:"format"`        // json, human
	RedactAPIKeys bool   `yaml:"redactAPIKeys"` // Redact API keys in logs
}

// MetricsConfig configures performance and cost metrics tracking.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Merge combines multiple configuration instances, prioritising the latter ones.
func Merge(configs ...Config) Config {
	result := Config{}
	for _, cfg := range configs {
		result = merge(result, cfg)
	}
	return result
}

func merge(base, overlay Config) Config {
	result := base

	result.LLM = chooseLLM(base.LLM, overlay.LLM)
	result.HTTP = chooseHTTP(base.HTTP, overlay.HTTP)
	result.Qdrant = chooseQdrant(base.Qdrant, overlay.Qdrant)
	result.Embedding = chooseEmbedding(base.Embedding, overlay.Embedding)
	result.Rerank = chooseRerank(base.Rerank, overlay.Rerank)
	result.Search = chooseSearch(base.Search, overlay.Search)
	result.Thresholds = chooseThresholds(base.Thresholds, overlay.Thresholds)
	result.Truncation = chooseTruncation(base.Truncation, overlay.Truncation)
	result.Agent = chooseAgent(base.Agent, overlay.Agent)
	result.Batch = chooseBatch(base.Batch, overlay.Batch)
	result.Store = chooseStore(base.Store, overlay.Store)
	result.Observability = chooseObservability(base.Observability, overlay.Observability)

	return result
}

func chooseLLM(base, overlay LLMConfig) LLMConfig {
	result := base
	if overlay.Model != "" {
		result.Model = overlay.Model
	}
	if overlay.APIKey != "" {
		result.APIKey = overlay.APIKey
	}
	if overlay.MaxOutputTokens != 0 {
		result.MaxOutputTokens = overlay.MaxOutputTokens
	}
	return result
}

func chooseHTTP(base, overlay HTTPConfig) HTTPConfig {
	if overlay.Timeout != "" || overlay.MaxRetries != 0 || overlay.InitialBackoff != "" || overlay.MaxBackoff != "" || overlay.BackoffMultiplier != 0 {
		return overlay
	}
	return base
}

func chooseQdrant(base, overlay QdrantConfig) QdrantConfig {
	result := base
	if overlay.URL != "" {
		result.URL = overlay.URL
	}
	if overlay.APIKey != "" {
		result.APIKey = overlay.APIKey
	}
	if overlay.Collection != "" {
		result.Collection = overlay.Collection
	}
	if overlay.VectorSize != 0 {
		result.VectorSize = overlay.VectorSize
	}
	return result
}

func chooseEmbedding(base, overlay EmbeddingConfig) EmbeddingConfig {
	result := base
	if overlay.URL != "" {
		result.URL = overlay.URL
	}
	if overlay.Model != "" {
		result.Model = overlay.Model
	}
	return result
}

func chooseRerank(base, overlay RerankConfig) RerankConfig {
	result := base
	if overlay.URL != "" {
		result.URL = overlay.URL
	}
	if overlay.Model != "" {
		result.Model = overlay.Model
	}
	return result
}

func chooseSearch(base, overlay SearchConfig) SearchConfig {
	if overlay.TopKCandidates != 0 || overlay.RerankTopK != 0 || overlay.FinalTopK != 0 {
		return overlay
	}
	return base
}

func chooseThresholds(base, overlay ThresholdsConfig) ThresholdsConfig {
	if overlay.Duplicate != 0 || overlay.Similar != 0 || overlay.EarlyStop != 0 {
		return overlay
	}
	return base
}

func chooseTruncation(base, overlay TruncationConfig) TruncationConfig {
	if overlay.MaxTokens != 0 || overlay.TokenBuffer != 0 {
		return overlay
	}
	return base
}

func chooseAgent(base, overlay AgentConfig) AgentConfig {
	if overlay.MaxIterations != 0 || overlay.MinQueryLength != 0 {
		return overlay
	}
	return base
}

func chooseBatch(base, overlay BatchConfig) BatchConfig {
	if overlay.Concurrency != 0 || overlay.Delay != "" {
		return overlay
	}
	return base
}

func chooseStore(base, overlay StoreConfig) StoreConfig {
	if overlay.Enabled || overlay.Path != "" {
		return overlay
	}
	return base
}

func chooseObservability(base, overlay ObservabilityConfig) ObservabilityConfig {
	result := base

	// Merge logging config
	if overlay.Logging.Enabled || overlay.Logging.Level != "" || overlay.Logging.Format != "" {
		result.Logging = overlay.Logging
	}

	// Merge metrics config
	if overlay.Metrics.Enabled {
		result.Metrics = overlay.Metrics
	}

	return result
}
