package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bkyoung/mnemosyne/internal/adapter/transport"
	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/truncate"
	"github.com/bkyoung/mnemosyne/internal/usecase/detect"
)

func toolUseResponse(name string, input interface{}) MessagesResponse {
	raw, _ := json.Marshal(input)
	return MessagesResponse{
		ID:    "msg_1",
		Model: "claude-sonnet-4-5-20250929",
		Role:  "assistant",
		Content: []ContentBlock{{
			Type:  "tool_use",
			ID:    "toolu_1",
			Name:  name,
			Input: raw,
		}},
		StopReason: "tool_use",
		Usage:      UsageInfo{InputTokens: 500, OutputTokens: 200},
	}
}

func newNormalizer(t *testing.T, handler http.HandlerFunc) *Normalizer {
	t.Helper()
	client := newTestClient(t, handler)
	logger := transport.NewDefaultLogger(transport.LogLevelError, transport.LogFormatHuman, true)
	return NewNormalizer(client, truncate.New(0, 0), logger, 0)
}

func TestNormalizeParsesToolInput(t *testing.T) {
	var gotReq MessagesRequest
	n := newNormalizer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(toolUseResponse("submit_normalized_report", map[string]interface{}{
			"title":              "Open redirect on login",
			"summary":            "The next parameter redirects anywhere.",
			"vulnerability_type": "Open Redirect",
			"severity":           "medium",
			"affected_component": "login flow",
			"reproduction_steps": []string{"Visit /login?next=https://evil.example"},
			"impact":             "Phishing via trusted domain.",
		}))
	})

	report, err := n.Normalize(context.Background(), "raw report text about an open redirect")
	require.NoError(t, err)

	assert.Equal(t, "Open redirect on login", report.Title)
	assert.Equal(t, domain.SeverityMedium, report.Severity)
	require.NoError(t, report.Validate())

	// The tool is forced, not optional.
	require.NotNil(t, gotReq.ToolChoice)
	assert.Equal(t, "tool", gotReq.ToolChoice.Type)
	assert.Equal(t, "submit_normalized_report", gotReq.ToolChoice.Name)
	require.Len(t, gotReq.Tools, 1)
}

func TestNormalizeErrorsWhenToolNotCalled(t *testing.T) {
	n := newNormalizer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse("I cannot normalize this."))
	})

	_, err := n.Normalize(context.Background(), "raw text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not call submit_normalized_report")
}

func TestReasonerMapsContentBlocks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := json.Marshal(map[string]interface{}{"query": "xss comment field", "limit": 10})
		json.NewEncoder(w).Encode(MessagesResponse{
			ID:    "msg_1",
			Model: "claude-sonnet-4-5-20250929",
			Content: []ContentBlock{
				{Type: "text", Text: "Let me search."},
				{Type: "tool_use", ID: "toolu_9", Name: "hybrid_search", Input: raw},
			},
			StopReason: "tool_use",
			Usage:      UsageInfo{InputTokens: 10, OutputTokens: 20},
		})
	})
	reasoner := NewReasoner(client, 0)

	step, err := reasoner.Step(context.Background(), "system", nil, []detect.Message{
		{Role: detect.RoleUser, Text: "analyze this"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me search.", step.Text)
	require.Len(t, step.ToolCalls, 1)
	assert.Equal(t, "toolu_9", step.ToolCalls[0].ID)
	assert.Equal(t, "hybrid_search", step.ToolCalls[0].Name)
	assert.Equal(t, "tool_use", step.StopReason)
	assert.Equal(t, 10, step.Usage.InputTokens)
}

func TestReasonerEncodesToolResults(t *testing.T) {
	var gotReq MessagesRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(textResponse("done"))
	})
	reasoner := NewReasoner(client, 0)

	_, err := reasoner.Step(context.Background(), "system", nil, []detect.Message{
		{Role: detect.RoleUser, Text: "analyze"},
		{Role: detect.RoleAssistant, Text: "searching", ToolCalls: []detect.ToolCall{
			{ID: "toolu_1", Name: "hybrid_search", Input: json.RawMessage(`{"query":"q"}`)},
		}},
		{Role: detect.RoleUser, ToolResults: []detect.ToolResult{
			{CallID: "toolu_1", Content: "No results found."},
		}},
	})
	require.NoError(t, err)

	require.Len(t, gotReq.Messages, 3)

	assistant := gotReq.Messages[1]
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, "text", assistant.Content[0].Type)
	assert.Equal(t, "tool_use", assistant.Content[1].Type)

	toolTurn := gotReq.Messages[2]
	require.Len(t, toolTurn.Content, 1)
	assert.Equal(t, "tool_result", toolTurn.Content[0].Type)
	assert.Equal(t, "toolu_1", toolTurn.Content[0].ToolUseID)
}

func TestEstimateTokensFallbackNeverZeroForText(t *testing.T) {
	assert.Greater(t, EstimateTokens("hello world, this is a prompt"), 0)
}
