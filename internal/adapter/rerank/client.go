// Package rerank calls a cross-encoder re-ranking service (TEI or any
// Cohere-compatible /rerank endpoint) to score query/passage pairs.
package rerank

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
	serviceName    = "rerank"
	defaultTimeout = 30 * time.Second
)

// Client is an HTTP client for a /rerank endpoint.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
	retry   transport.RetryConfig
}

// NewClient creates a re-ranking client. model may be empty when the
// service hosts a single model.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
		retry:   transport.DefaultRetryConfig(),
	}
}

// SetTimeout sets the HTTP timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Rerank scores passages against the query. Scores come back in input
// order regardless of the order the service returns them in.
func (c *Client) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	reqBody := rerankRequest{Model: c.model, Query: query, Documents: passages}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var respBody []byte
	err = transport.RetryWithBackoff(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(jsonData))
		if err != nil {
			return &transport.Error{Type: transport.ErrTypeUnknown, Message: err.Error(), Service: serviceName}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return transport.NewTimeoutError(serviceName, err.Error())
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return transport.NewTimeoutError(serviceName, err.Error())
		}

		switch {
		case resp.StatusCode >= 500:
			return &transport.Error{
				Type:       transport.ErrTypeServiceUnavailable,
				Message:    string(respBody),
				StatusCode: resp.StatusCode,
				Retryable:  true,
				Service:    serviceName,
			}
		case resp.StatusCode >= 400:
			return transport.NewInvalidRequestError(serviceName, string(respBody))
		}
		return nil
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing rerank response: %w", err)
	}
	if len(parsed.Results) != len(passages) {
		return nil, fmt.Errorf("rerank returned %d scores for %d passages", len(parsed.Results), len(passages))
	}

	scores := make([]float64, len(passages))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("rerank returned out-of-range index %d", r.Index)
		}
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}

// Compile-time interface check
var _ retrieval.Reranker = (*Client)(nil)
