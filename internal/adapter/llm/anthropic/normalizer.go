package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bkyoung/mnemosyne/internal/adapter/transport"
	"github.com/bkyoung/mnemosyne/internal/domain"
	"github.com/bkyoung/mnemosyne/internal/truncate"
	"github.com/bkyoung/mnemosyne/internal/usecase/ingest"
)

// normalizeTool is the forced tool the model must call to submit the
// structured report. Forcing the tool guarantees schema-shaped output
// with no prose to strip.
const normalizeTool = "submit_normalized_report"

// Normalizer converts raw report text into a structured report via a
// forced tool call. Oversized reports are truncated before the call.
type Normalizer struct {
	client       *Client
	truncator    *truncate.Truncator
	logger       transport.Logger
	maxOutTokens int
}

// NewNormalizer creates a report normalizer.
func NewNormalizer(client *Client, truncator *truncate.Truncator, logger transport.Logger, maxOutTokens int) *Normalizer {
	if maxOutTokens <= 0 {
		maxOutTokens = 8192
	}
	return &Normalizer{
		client:       client,
		truncator:    truncator,
		logger:       logger,
		maxOutTokens: maxOutTokens,
	}
}

// Normalize structures one raw report.
func (n *Normalizer) Normalize(ctx context.Context, rawText string) (domain.StructuredReport, error) {
	text, truncated := n.truncator.Truncate(rawText)
	if truncated {
		n.logger.LogWarning(ctx, "report truncated before normalization", map[string]interface{}{
			"original_chars": len(rawText),
			"kept_chars":     len(text),
		})
	}

	n.logger.LogInfo(ctx, "normalizing report", map[string]interface{}{
		"prompt_tokens": EstimateTokens(text),
	})

	req := MessagesRequest{
		MaxTokens:  n.maxOutTokens,
		System:     normalizationSystemPrompt,
		Tools:      []Tool{normalizationToolSpec()},
		ToolChoice: &ToolChoice{Type: "tool", Name: normalizeTool},
		Messages: []Message{{
			Role: "user",
			Content: []ContentBlock{{
				Type: "text",
				Text: "Normalize this security report:\n\n" + text,
			}},
		}},
	}

	resp, err := n.client.Messages(ctx, req)
	if err != nil {
		return domain.StructuredReport{}, fmt.Errorf("anthropic: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != normalizeTool {
			continue
		}
		var report domain.StructuredReport
		if err := json.Unmarshal(block.Input, &report); err != nil {
			return domain.StructuredReport{}, fmt.Errorf("parsing normalized report: %w", err)
		}
		return report, nil
	}

	return domain.StructuredReport{}, fmt.Errorf("model did not call %s (stop_reason=%s)", normalizeTool, resp.StopReason)
}

// normalizationToolSpec defines the structured report schema the model
// must fill.
func normalizationToolSpec() Tool {
	return Tool{
		Name:        normalizeTool,
		Description: "Submit the normalized security report in structured format",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Short, descriptive title of the vulnerability",
				},
				"summary": map[string]interface{}{
					"type":        "string",
					"description": "Executive summary (2-3 sentences) explaining the vulnerability and impact",
				},
				"vulnerability_type": map[string]interface{}{
					"type":        "string",
					"description": "Category using OWASP/CWE nomenclature (e.g., SQL Injection, XSS, SSRF)",
				},
				"severity": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"critical", "high", "medium", "low", "info"},
					"description": "Security severity level",
				},
				"affected_component": map[string]interface{}{
					"type":        "string",
					"description": "Specific component, endpoint, or module affected",
				},
				"reproduction_steps": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Ordered list of actionable steps to reproduce",
				},
				"technical_artifacts": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"type": map[string]interface{}{
								"type": "string",
								"enum": []string{"payload", "request", "response", "code", "exploit", "log", "other"},
							},
							"language": map[string]interface{}{
								"type":        "string",
								"description": "Programming/markup language",
							},
							"content": map[string]interface{}{
								"type":        "string",
								"description": "Complete, unmodified artifact content",
							},
							"description": map[string]interface{}{
								"type":        "string",
								"description": "Brief explanation of this artifact",
							},
						},
						"required": []string{"type", "content", "description"},
					},
					"description": "Code snippets, payloads, requests, exploits",
				},
				"technologies": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Technologies mentioned (frameworks, languages, databases)",
				},
				"impact": map[string]interface{}{
					"type":        "string",
					"description": "Description of the business/security impact",
				},
				"remediation": map[string]interface{}{
					"type":        "string",
					"description": "Recommended fix or mitigation",
				},
				"metadata": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"cves": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "string"},
						},
						"references": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "string"},
						},
						"hunter_notes": map[string]interface{}{
							"type": "string",
						},
					},
				},
			},
			"required": []string{
				"title", "summary", "vulnerability_type", "severity",
				"affected_component", "reproduction_steps", "impact",
			},
		},
	}
}

// Compile-time interface check
var _ ingest.Normalizer = (*Normalizer)(nil)
