// Package detect implements the duplicate-detection agent. A reasoning
// model investigates a new report by issuing hybrid_search tool calls,
// inspecting re-ranked candidates, and delivering a JSON verdict. The
// controller enforces the iteration cap, validates tool input, and
// short-circuits on high-confidence matches.
package detect

import (
	"context"
	"encoding/json"

	"github.com/bkyoung/mnemosyne/internal/domain"
)

// Role values for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in the agent conversation. Assistant turns may
// carry tool calls; user turns may carry tool results.
type Message struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the outcome of a tool call, returned to the model.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// ToolSpec describes a tool made available to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Usage reports token consumption for one reasoning step.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StepResult is the model's output for one reasoning step.
type StepResult struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
	Cost       float64
}

// ReasoningClient performs one reasoning step against an LLM provider.
type ReasoningClient interface {
	Step(ctx context.Context, system string, tools []ToolSpec, messages []Message) (StepResult, error)
}

// Searcher runs the retrieval funnel on behalf of the agent.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
	RerankResults(ctx context.Context, query string, candidates []domain.SearchResult, topK int) []domain.SearchResult
}

// Logger records agent progress.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// Config holds the agent's guardrails and calibration thresholds.
type Config struct {
	// MaxIterations caps reasoning steps per detection run.
	MaxIterations int

	// EarlyStopScore is the re-rank score above which the run stops
	// immediately with a duplicate verdict, skipping further reasoning.
	EarlyStopScore float64

	// MinQueryLength rejects degenerate search queries before they
	// reach the vector store.
	MinQueryLength int

	// DuplicateThreshold and SimilarThreshold calibrate the model's
	// similarity scale in the system prompt. They are prompt guidance
	// only and never override the status the model reports.
	DuplicateThreshold float64
	SimilarThreshold   float64

	// DefaultSearchLimit is the candidate count per hybrid search.
	DefaultSearchLimit int

	// RerankTopK is how many candidates survive re-ranking per search.
	RerankTopK int
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      5,
		EarlyStopScore:     0.9,
		MinQueryLength:     5,
		DuplicateThreshold: 0.85,
		SimilarThreshold:   0.65,
		DefaultSearchLimit: 20,
		RerankTopK:         10,
	}
}
