// Package anthropic is the Claude Messages API adapter. It backs both
// the detection agent (tool-use reasoning) and report normalization
// (forced tool call with a structured schema).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bkyoung/mnemosyne/internal/adapter/transport"
)

const (
	serviceName             = "anthropic"
	defaultBaseURL          = "https://api.anthropic.com"
	defaultTimeout          = 120 * time.Second
	defaultAnthropicVersion = "2023-06-01"
)

// Client is an HTTP client for the Anthropic Messages API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  transport.Logger
	metrics transport.Metrics
	pricing *Pricing
	retry   transport.RetryConfig
}

// NewClient creates a Messages API client.
func NewClient(apiKey, model string, logger transport.Logger, metrics transport.Metrics) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
		metrics: metrics,
		pricing: NewPricing(),
		retry:   transport.DefaultRetryConfig(),
	}
}

// SetBaseURL sets a custom base URL (for testing).
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// SetTimeout sets the HTTP timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// Messages sends one request to the Messages API with retry on
// transient failures. The model field of the request is filled from
// the client when empty.
func (c *Client) Messages(ctx context.Context, reqBody MessagesRequest) (*MessagesResponse, error) {
	if reqBody.Model == "" {
		reqBody.Model = c.model
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	c.logger.LogRequest(ctx, transport.RequestLog{
		Service:      serviceName,
		Model:        reqBody.Model,
		Timestamp:    start,
		PayloadBytes: len(jsonData),
		APIKey:       c.apiKey,
	})
	if c.metrics != nil {
		c.metrics.RecordRequest(serviceName, reqBody.Model)
	}

	url := c.baseURL + "/v1/messages"
	var resp *http.Response

	err = transport.RetryWithBackoff(ctx, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if reqErr != nil {
			return &transport.Error{
				Type:    transport.ErrTypeUnknown,
				Message: reqErr.Error(),
				Service: serviceName,
			}
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", defaultAnthropicVersion)

		var callErr error
		resp, callErr = c.client.Do(req)
		if callErr != nil {
			return transport.NewTimeoutError(serviceName, callErr.Error())
		}

		if resp.StatusCode >= 400 {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return handleErrorResponse(resp.StatusCode, bodyBytes)
		}

		return nil
	}, c.retry)

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordDuration(serviceName, reqBody.Model, duration)
	}

	if err != nil {
		c.logError(ctx, reqBody.Model, duration, err)
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var messagesResp MessagesResponse
	if err := json.Unmarshal(bodyBytes, &messagesResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(messagesResp.Content) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	cost := c.pricing.Cost(messagesResp.Model, messagesResp.Usage.InputTokens, messagesResp.Usage.OutputTokens)
	if c.metrics != nil {
		c.metrics.RecordTokens(serviceName, messagesResp.Model, messagesResp.Usage.InputTokens, messagesResp.Usage.OutputTokens)
		c.metrics.RecordCost(serviceName, messagesResp.Model, cost)
	}

	c.logger.LogResponse(ctx, transport.ResponseLog{
		Service:    serviceName,
		Model:      messagesResp.Model,
		Timestamp:  time.Now(),
		Duration:   duration,
		TokensIn:   messagesResp.Usage.InputTokens,
		TokensOut:  messagesResp.Usage.OutputTokens,
		Cost:       cost,
		StatusCode: resp.StatusCode,
		StopReason: messagesResp.StopReason,
	})

	return &messagesResp, nil
}

// Cost returns the price of a call with the given token usage against
// the client's configured model.
func (c *Client) Cost(tokensIn, tokensOut int) float64 {
	return c.pricing.Cost(c.model, tokensIn, tokensOut)
}

func (c *Client) logError(ctx context.Context, model string, duration time.Duration, err error) {
	errLog := transport.ErrorLog{
		Service:   serviceName,
		Model:     model,
		Timestamp: time.Now(),
		Duration:  duration,
		Error:     err,
		ErrorType: transport.ErrTypeUnknown,
	}
	if svcErr, ok := err.(*transport.Error); ok {
		errLog.ErrorType = svcErr.Type
		errLog.StatusCode = svcErr.StatusCode
		errLog.Retryable = svcErr.Retryable
	}
	if c.metrics != nil {
		c.metrics.RecordError(serviceName, model, errLog.ErrorType)
	}
	c.logger.LogError(ctx, errLog)
}

// handleErrorResponse maps HTTP status codes to typed errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var errResp ErrorResponse
	message := fmt.Sprintf("HTTP %d", statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &transport.Error{
			Type:       transport.ErrTypeAuthentication,
			Message:    message,
			StatusCode: statusCode,
			Service:    serviceName,
		}
	case http.StatusTooManyRequests:
		return &transport.Error{
			Type:       transport.ErrTypeRateLimit,
			Message:    message,
			StatusCode: statusCode,
			Retryable:  true,
			Service:    serviceName,
		}
	case http.StatusBadRequest:
		return &transport.Error{
			Type:       transport.ErrTypeInvalidRequest,
			Message:    message,
			StatusCode: statusCode,
			Service:    serviceName,
		}
	case 529: // Anthropic-specific: overloaded
		return &transport.Error{
			Type:       transport.ErrTypeServiceUnavailable,
			Message:    message,
			StatusCode: statusCode,
			Retryable:  true,
			Service:    serviceName,
		}
	case http.StatusServiceUnavailable, http.StatusInternalServerError:
		return &transport.Error{
			Type:       transport.ErrTypeServiceUnavailable,
			Message:    message,
			StatusCode: statusCode,
			Retryable:  true,
			Service:    serviceName,
		}
	default:
		return &transport.Error{
			Type:       transport.ErrTypeUnknown,
			Message:    message,
			StatusCode: statusCode,
			Service:    serviceName,
		}
	}
}
