// Package embed provides the two embedding paths for hybrid search:
// dense semantic vectors from a local Ollama model and lexical sparse
// vectors computed in-process.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bkyoung/mnemosyne/internal/adapter/transport"
	"github.com/bkyoung/mnemosyne/internal/usecase/retrieval"
)

const (
	ollamaService  = "ollama"
	defaultTimeout = 60 * time.Second
)

// OllamaEmbedder produces dense embeddings via Ollama's embeddings API.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
	retry   transport.RetryConfig
}

// NewOllamaEmbedder creates an embedder for the given model.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
		retry:   transport.DefaultRetryConfig(),
	}
}

// SetTimeout sets the HTTP timeout.
func (e *OllamaEmbedder) SetTimeout(timeout time.Duration) {
	e.client.Timeout = timeout
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the dense vector for text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{Model: e.model, Prompt: text}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var respBody []byte
	err = transport.RetryWithBackoff(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(jsonData))
		if err != nil {
			return &transport.Error{Type: transport.ErrTypeUnknown, Message: err.Error(), Service: ollamaService}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return transport.NewTimeoutError(ollamaService, err.Error())
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return transport.NewTimeoutError(ollamaService, err.Error())
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return transport.NewNotFoundError(ollamaService, fmt.Sprintf("model %s not found", e.model))
		case resp.StatusCode >= 500:
			return &transport.Error{
				Type:       transport.ErrTypeServiceUnavailable,
				Message:    string(respBody),
				StatusCode: resp.StatusCode,
				Retryable:  true,
				Service:    ollamaService,
			}
		case resp.StatusCode >= 400:
			return transport.NewInvalidRequestError(ollamaService, string(respBody))
		}
		return nil
	}, e.retry)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing embedding response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding for model %s", e.model)
	}

	return parsed.Embedding, nil
}

// Compile-time interface check
var _ retrieval.DenseEmbedder = (*OllamaEmbedder)(nil)
