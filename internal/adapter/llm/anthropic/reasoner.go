package anthropic

import (
	"context"
	"fmt"

	"github.com/bkyoung/mnemosyne/internal/usecase/detect"
)

// Reasoner adapts the Messages API to the detection agent's
// ReasoningClient interface, mapping between the agent's neutral
// message model and Anthropic content blocks.
type Reasoner struct {
	client       *Client
	maxOutTokens int
}

// NewReasoner creates a reasoning client for the detection agent.
func NewReasoner(client *Client, maxOutTokens int) *Reasoner {
	if maxOutTokens <= 0 {
		maxOutTokens = 4096
	}
	return &Reasoner{client: client, maxOutTokens: maxOutTokens}
}

// Step performs one agent turn.
func (r *Reasoner) Step(ctx context.Context, system string, tools []detect.ToolSpec, messages []detect.Message) (detect.StepResult, error) {
	req := MessagesRequest{
		MaxTokens: r.maxOutTokens,
		System:    system,
		Messages:  encodeMessages(messages),
		Tools:     encodeTools(tools),
	}

	resp, err := r.client.Messages(ctx, req)
	if err != nil {
		return detect.StepResult{}, fmt.Errorf("anthropic: %w", err)
	}

	result := detect.StepResult{
		StopReason: resp.StopReason,
		Usage: detect.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Cost: r.client.pricing.Cost(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, detect.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}

	return result, nil
}

func encodeMessages(messages []detect.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		var blocks []ContentBlock
		if m.Text != "" {
			blocks = append(blocks, ContentBlock{Type: "text", Text: m.Text})
		}
		for _, call := range m.ToolCalls {
			blocks = append(blocks, ContentBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Input,
			})
		}
		for _, result := range m.ToolResults {
			blocks = append(blocks, ContentBlock{
				Type:      "tool_result",
				ToolUseID: result.CallID,
				Content:   result.Content,
				IsError:   result.IsError,
			})
		}
		out = append(out, Message{Role: m.Role, Content: blocks})
	}
	return out
}

func encodeTools(tools []detect.ToolSpec) []Tool {
	out := make([]Tool, len(tools))
	for i, t := range tools {
		out[i] = Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return out
}

// Compile-time interface check
var _ detect.ReasoningClient = (*Reasoner)(nil)
