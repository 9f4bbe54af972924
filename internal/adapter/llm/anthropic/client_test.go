package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/mnemosyne/internal/adapter/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := transport.NewDefaultLogger(transport.LogLevelError, transport.LogFormatHuman, true)
	client := NewClient("sk-ant-test", "claude-sonnet-4-5-20250929", logger, transport.NewDefaultMetrics())
	client.SetBaseURL(server.URL)
	client.retry = transport.RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
	return client
}

func textResponse(text string) MessagesResponse {
	return MessagesResponse{
		ID:         "msg_1",
		Model:      "claude-sonnet-4-5-20250929",
		Role:       "assistant",
		Content:    []ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      UsageInfo{InputTokens: 100, OutputTokens: 50},
	}
}

func TestMessagesSuccess(t *testing.T) {
	var gotVersion, gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		assert.Equal(t, "/v1/messages", r.URL.Path)
		json.NewEncoder(w).Encode(textResponse("hello"))
	})

	resp, err := client.Messages(context.Background(), MessagesRequest{
		MaxTokens: 100,
		Messages:  []Message{{Role: "user", Content: []ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "sk-ant-test", gotKey)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 100, resp.Usage.InputTokens)
}

func TestMessagesFillsModelFromClient(t *testing.T) {
	var gotModel string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req MessagesRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		json.NewEncoder(w).Encode(textResponse("ok"))
	})

	_, err := client.Messages(context.Background(), MessagesRequest{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5-20250929", gotModel)
}

func TestMessagesRetriesOnOverloaded(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(529)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		json.NewEncoder(w).Encode(textResponse("recovered"))
	})

	resp, err := client.Messages(context.Background(), MessagesRequest{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "recovered", resp.Content[0].Text)
}

func TestMessagesAuthErrorNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})

	_, err := client.Messages(context.Background(), MessagesRequest{MaxTokens: 10})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var svcErr *transport.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, transport.ErrTypeAuthentication, svcErr.Type)
	assert.Contains(t, svcErr.Message, "invalid x-api-key")
}

func TestMessagesRateLimitMapsRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := client.Messages(context.Background(), MessagesRequest{MaxTokens: 10})
	require.Error(t, err)

	var svcErr *transport.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, transport.ErrTypeRateLimit, svcErr.Type)
	assert.True(t, svcErr.Retryable)
}

func TestMessagesEmptyContentIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(MessagesResponse{ID: "msg_1", StopReason: "end_turn"})
	})

	_, err := client.Messages(context.Background(), MessagesRequest{MaxTokens: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no content")
}

func TestMessagesWithNilMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse("ok"))
	}))
	t.Cleanup(server.Close)

	logger := transport.NewDefaultLogger(transport.LogLevelError, transport.LogFormatHuman, true)
	client := NewClient("sk-ant-test", "claude-sonnet-4-5-20250929", logger, nil)
	client.SetBaseURL(server.URL)

	resp, err := client.Messages(context.Background(), MessagesRequest{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content[0].Text)
}

func TestMessagesErrorWithNilMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	t.Cleanup(server.Close)

	logger := transport.NewDefaultLogger(transport.LogLevelError, transport.LogFormatHuman, true)
	client := NewClient("sk-ant-test", "claude-sonnet-4-5-20250929", logger, nil)
	client.SetBaseURL(server.URL)

	_, err := client.Messages(context.Background(), MessagesRequest{MaxTokens: 10})
	require.Error(t, err)
}

func TestPricingKnownAndUnknownModels(t *testing.T) {
	p := NewPricing()

	cost := p.Cost("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.00, cost, 1e-9)

	assert.Zero(t, p.Cost("future-model", 1000, 1000))
}

func TestErrorIsTransportError(t *testing.T) {
	err := handleErrorResponse(503, []byte(`{}`))

	var svcErr *transport.Error
	require.True(t, errors.As(err, &svcErr))
	assert.True(t, svcErr.Retryable)
}
