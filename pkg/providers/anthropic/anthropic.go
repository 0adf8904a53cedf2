// Package anthropic provides a Completer implementation for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
)

const messagesPath = "/v1/messages"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the Anthropic Messages API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the Anthropic API.
// The baseURL should be "https://api.anthropic.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{
		Key:    apiKey,
		Header: "x-api-key",
	}
	a.Name = model
	a.MaxTokens = 4096
	a.Headers = map[string]string{
		"anthropic-version": "2023-06-01",
	}
	a.HeaderParser = modeladapter.ParseAnthropicRateLimitHeaders

	return a
}

// Complete sends a request to the Anthropic Messages API and returns the
// assistant's reply.
func (a *Adapter) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	var resp apiResponse
	if err := a.PostJSON(ctx, messagesPath, a.buildRequest(req), &resp); err != nil {
		return modeladapter.Response{}, fmt.Errorf("anthropic: %w", err)
	}

	tc := usage.TokenCount{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	a.Usage.Add(tc)

	return modeladapter.Response{
		Message:    parseContent(resp.Content),
		StopReason: mapStopReason(resp.StopReason),
		Usage:      tc,
	}, nil
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []apiToolDef `json:"tools,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type apiToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// --- response types ---

type apiResponse struct {
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(r modeladapter.Request) apiRequest {
	req := apiRequest{
		Model:     a.Name,
		MaxTokens: a.ResponseMaxTokens(r),
		System:    r.SystemPrompt,
	}

	if a.Temperature != 0 {
		t := a.Temperature
		req.Temperature = &t
	}

	if len(r.Tools) > 0 {
		req.Tools = make([]apiToolDef, len(r.Tools))
		for i, d := range r.Tools {
			schema := d.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			req.Tools[i] = apiToolDef{
				Name:        d.Name,
				Description: d.Description,
				InputSchema: schema,
			}
		}
	}

	for _, m := range r.Messages {
		appendMessage(&req.Messages, m)
	}

	return req
}

func appendMessage(msgs *[]apiMessage, m message.Message) {
	// Tool results travel in a "user" role message per the Anthropic API.
	msgRole := "user"
	if m.Role == role.Assistant {
		msgRole = "assistant"
	}

	for _, p := range m.Parts {
		block, ok := partToBlock(p)
		if !ok {
			continue
		}

		// Merge into the last message if it has the same role.
		if n := len(*msgs); n > 0 && (*msgs)[n-1].Role == msgRole {
			(*msgs)[n-1].Content = append((*msgs)[n-1].Content, block)
			continue
		}

		*msgs = append(*msgs, apiMessage{
			Role:    msgRole,
			Content: []apiContent{block},
		})
	}
}

func partToBlock(p content.Part) (apiContent, bool) {
	switch v := p.(type) {
	case content.Text:
		return apiContent{Type: "text", Text: v.Text}, true
	case content.ToolCall:
		input := v.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return apiContent{Type: "tool_use", ID: v.ID, Name: v.Name, Input: input}, true
	case content.ToolResult:
		return apiContent{Type: "tool_result", ToolUseID: v.ToolCallID, Content: v.Text(), IsError: v.IsError()}, true
	default:
		return apiContent{}, false
	}
}

func mapStopReason(s string) modeladapter.StopReason {
	switch s {
	case "end_turn", "stop_sequence":
		return modeladapter.StopEndTurn
	case "tool_use":
		return modeladapter.StopToolUse
	case "max_tokens":
		return modeladapter.StopMaxTokens
	case "refusal":
		return modeladapter.StopError
	default:
		return modeladapter.StopReason(s)
	}
}

func parseContent(blocks []apiContent) message.Message {
	var parts []content.Part

	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, content.Text{Text: block.Text})
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			parts = append(parts, content.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}

	return message.New(role.Assistant, parts...)
}
