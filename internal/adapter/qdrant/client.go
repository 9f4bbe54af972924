// Package qdrant is the vector store adapter. It speaks Qdrant's REST
// API directly: collection management, point upsert with named dense
// and sparse vectors, and per-vector similarity queries for the hybrid
// retrieval pipeline.
package qdrant

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
	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/usecase/ingest"
	"github.com/bkyoung/mnemosyne/internal/usecase/retrieval"
)

const (
	serviceName    = "qdrant"
	defaultTimeout = 30 * time.Second

	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Client is a Qdrant REST API client bound to one collection.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
	client     *http.Client
	logger     transport.Logger
	retry      transport.RetryConfig
}

// NewClient creates a Qdrant client. vectorSize must match the dense
// embedder's output dimension.
func NewClient(baseURL, apiKey, collection string, vectorSize int, logger transport.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		vectorSize: vectorSize,
		client:     &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		retry:      transport.DefaultRetryConfig(),
	}
}

// SetTimeout sets the HTTP timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// CheckHealth verifies the server is reachable.
func (c *Client) CheckHealth(ctx context.Context) error {
	var resp collectionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// EnsureCollection creates the corpus collection if it does not exist.
// Existing collections are left untouched.
func (c *Client) EnsureCollection(ctx context.Context) error {
	exists, err := c.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		c.logger.LogInfo(ctx, "collection already exists", map[string]interface{}{
			"collection": c.collection,
		})
		return nil
	}

	config := collectionConfig{
		Vectors: map[string]vectorParams{
			denseVectorName: {Size: c.vectorSize, Distance: "Cosine"},
		},
		SparseVectors: map[string]sparseVectorParams{
			sparseVectorName: {},
		},
	}

	if err := c.doRequest(ctx, http.MethodPut, "/collections/"+c.collection, config, nil); err != nil {
		return fmt.Errorf("creating collection %s: %w", c.collection, err)
	}

	c.logger.LogInfo(ctx, "collection created", map[string]interface{}{
		"collection":  c.collection,
		"vector_size": c.vectorSize,
	})
	return nil
}

func (c *Client) collectionExists(ctx context.Context) (bool, error) {
	var resp collectionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return false, fmt.Errorf("listing collections: %w", err)
	}
	for _, col := range resp.Result.Collections {
		if col.Name == c.collection {
			return true, nil
		}
	}
	return false, nil
}

// Info returns collection statistics for the stats command.
func (c *Client) Info(ctx context.Context) (CollectionInfo, error) {
	exists, err := c.collectionExists(ctx)
	if err != nil {
		return CollectionInfo{}, err
	}
	if !exists {
		return CollectionInfo{Name: c.collection}, nil
	}

	var resp collectionInfoResponse
	if err := c.doRequest(ctx, http.MethodGet, "/collections/"+c.collection, nil, &resp); err != nil {
		return CollectionInfo{}, fmt.Errorf("getting collection info: %w", err)
	}

	return CollectionInfo{
		Name:        c.collection,
		Exists:      true,
		Status:      resp.Result.Status,
		PointsCount: resp.Result.PointsCount,
	}, nil
}

// Exists reports whether a report ID is already indexed.
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	req := retrieveRequest{IDs: []string{id}}
	var resp retrieveResponse
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points", c.collection), req, &resp); err != nil {
		return false, fmt.Errorf("retrieving point: %w", err)
	}
	return len(resp.Result) > 0, nil
}

// Upsert writes points with both vectors and the structured report as
// payload.
func (c *Client) Upsert(ctx context.Context, points []ingest.Point) error {
	if len(points) == 0 {
		return nil
	}

	req := upsertRequest{Points: make([]point, len(points))}
	for i, p := range points {
		req.Points[i] = point{
			ID: p.ID,
			Vector: map[string]interface{}{
				denseVectorName: p.Dense,
				sparseVectorName: sparseVector{
					Indices: p.Sparse.Indices,
					Values:  p.Sparse.Values,
				},
			},
			Payload: pointPayload{Report: p.Report},
		}
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	if err := c.doRequest(ctx, http.MethodPut, path, req, nil); err != nil {
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	return nil
}

// QueryDense searches by dense vector similarity.
func (c *Client) QueryDense(ctx context.Context, vector []float32, limit int) ([]domain.SearchResult, error) {
	return c.query(ctx, queryRequest{
		Query:       vector,
		Using:       denseVectorName,
		Limit:       limit,
		WithPayload: true,
	})
}

// QuerySparse searches by sparse vector similarity.
func (c *Client) QuerySparse(ctx context.Context, vector retrieval.SparseVector, limit int) ([]domain.SearchResult, error) {
	return c.query(ctx, queryRequest{
		Query:       sparseVector{Indices: vector.Indices, Values: vector.Values},
		Using:       sparseVectorName,
		Limit:       limit,
		WithPayload: true,
	})
}

func (c *Client) query(ctx context.Context, req queryRequest) ([]domain.SearchResult, error) {
	var resp queryResponse
	path := fmt.Sprintf("/collections/%s/points/query", c.collection)
	if err := c.doRequest(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("querying %s vectors: %w", req.Using, err)
	}

	results := make([]domain.SearchResult, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		result, ok := c.decodePoint(ctx, p)
		if !ok {
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// decodePoint validates a stored payload on the way in. Points with
// missing or invalid reports are dropped and logged rather than fed to
// the agent.
func (c *Client) decodePoint(ctx context.Context, p scoredPoint) (domain.SearchResult, bool) {
	var id string
	if err := json.Unmarshal(p.ID, &id); err != nil {
		// Numeric IDs never appear in this collection; reject them.
		c.logger.LogWarning(ctx, "dropping point with non-string id", map[string]interface{}{
			"raw_id": string(p.ID),
		})
		return domain.SearchResult{}, false
	}

	var payload pointPayload
	if err := json.Unmarshal(p.Payload, &payload); err != nil {
		c.logger.LogWarning(ctx, "dropping point with malformed payload", map[string]interface{}{
			"report_id": id,
			"error":     err.Error(),
		})
		return domain.SearchResult{}, false
	}

	if err := payload.Report.Validate(); err != nil {
		c.logger.LogWarning(ctx, "dropping point with invalid report payload", map[string]interface{}{
			"report_id": id,
			"error":     err.Error(),
		})
		return domain.SearchResult{}, false
	}

	return domain.SearchResult{
		ReportID: id,
		Score:    p.Score,
		Report:   payload.Report,
	}, true
}

// doRequest runs one REST call with retry on transient failures.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var jsonData []byte
	if body != nil {
		var err error
		jsonData, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	var respBody []byte
	err := transport.RetryWithBackoff(ctx, func(ctx context.Context) error {
		var reader io.Reader
		if jsonData != nil {
			reader = bytes.NewReader(jsonData)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return &transport.Error{Type: transport.ErrTypeUnknown, Message: err.Error(), Service: serviceName}
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("api-key", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return transport.NewTimeoutError(serviceName, err.Error())
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return transport.NewTimeoutError(serviceName, err.Error())
		}

		if resp.StatusCode >= 400 {
			return mapStatusError(resp.StatusCode, respBody)
		}
		return nil
	}, c.retry)
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

func mapStatusError(statusCode int, body []byte) error {
	message := fmt.Sprintf("HTTP %d", statusCode)
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Status.Error != "" {
		message = errResp.Status.Error
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return transport.NewAuthenticationError(serviceName, message)
	case statusCode == http.StatusNotFound:
		return transport.NewNotFoundError(serviceName, message)
	case statusCode == http.StatusTooManyRequests:
		return transport.NewRateLimitError(serviceName, message)
	case statusCode >= 500:
		return &transport.Error{
			Type:       transport.ErrTypeServiceUnavailable,
			Message:    message,
			StatusCode: statusCode,
			Retryable:  true,
			Service:    serviceName,
		}
	default:
		return transport.NewInvalidRequestError(serviceName, message)
	}
}

// Compile-time interface checks
var (
	_ retrieval.VectorStore = (*Client)(nil)
	_ ingest.Store          = (*Client)(nil)
)
