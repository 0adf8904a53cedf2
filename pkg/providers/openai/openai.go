// Package openai provides a Completer implementation for the OpenAI Chat
// Completions API and compatible backends such as Grok.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
)

const completionsPath = "/v1/chat/completions"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the OpenAI Chat Completions API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the OpenAI API.
// The baseURL should be "https://api.openai.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model
	a.MaxTokens = 4096
	a.HeaderParser = modeladapter.ParseOpenAIRateLimitHeaders

	return a
}

// Complete sends a request to the Chat Completions API and returns the
// assistant's reply.
func (a *Adapter) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	var resp apiResponse
	if err := a.PostJSON(ctx, completionsPath, a.buildRequest(req), &resp); err != nil {
		return modeladapter.Response{}, fmt.Errorf("openai: %w", err)
	}

	tc := usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	a.Usage.Add(tc)

	if len(resp.Choices) == 0 {
		return modeladapter.Response{}, fault.New(fault.Structural, "openai: empty choices in response")
	}

	choice := resp.Choices[0]

	return modeladapter.Response{
		Message:    parseChoice(choice),
		StopReason: mapFinishReason(choice.FinishReason),
		Usage:      tc,
	}, nil
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []apiToolDef `json:"tools,omitempty"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    *string       `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function apiToolFunction `json:"function"`
}

type apiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiToolDef struct {
	Type     string         `json:"type"`
	Function apiToolDefFunc `json:"function"`
}

type apiToolDefFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// --- response types ---

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiRespMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type apiRespMessage struct {
	Role      string        `json:"role"`
	Content   *string       `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(r modeladapter.Request) apiRequest {
	req := apiRequest{
		Model:     a.Name,
		MaxTokens: a.ResponseMaxTokens(r),
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
				Type: "function",
				Function: apiToolDefFunc{
					Name:        d.Name,
					Description: d.Description,
					Parameters:  schema,
				},
			}
		}
	}

	if r.SystemPrompt != "" {
		sp := r.SystemPrompt
		req.Messages = append(req.Messages, apiMessage{Role: "system", Content: &sp})
	}

	for _, m := range r.Messages {
		appendMessages(&req.Messages, m)
	}

	return req
}

func appendMessages(msgs *[]apiMessage, m message.Message) {
	switch m.Role {
	case role.User:
		text := m.TextContent()
		*msgs = append(*msgs, apiMessage{Role: "user", Content: &text})

	case role.Assistant:
		var toolCalls []apiToolCall
		var text strings.Builder

		for _, p := range m.Parts {
			switch v := p.(type) {
			case content.Text:
				text.WriteString(v.Text)
			case content.ToolCall:
				args := string(v.Input)
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, apiToolCall{
					ID:   v.ID,
					Type: "function",
					Function: apiToolFunction{
						Name:      v.Name,
						Arguments: args,
					},
				})
			}
		}

		msg := apiMessage{Role: "assistant", ToolCalls: toolCalls}
		if text.Len() > 0 {
			joined := text.String()
			msg.Content = &joined
		}

		*msgs = append(*msgs, msg)

	case role.Tool:
		for _, tr := range m.ToolResults() {
			out := resultContent(tr)
			*msgs = append(*msgs, apiMessage{
				Role:       "tool",
				Content:    &out,
				ToolCallID: tr.ToolCallID,
			})
		}
	}
}

// resultContent renders a tool result as the string the API expects. The
// API has no error flag, so failures are sent as a JSON error object.
func resultContent(tr content.ToolResult) string {
	if !tr.IsError() {
		return tr.Text()
	}

	data, err := json.Marshal(map[string]any{"error": tr.Error})
	if err != nil {
		return tr.Error.Message
	}
	return string(data)
}

func mapFinishReason(s string) modeladapter.StopReason {
	switch s {
	case "stop":
		return modeladapter.StopEndTurn
	case "tool_calls", "function_call":
		return modeladapter.StopToolUse
	case "length":
		return modeladapter.StopMaxTokens
	case "content_filter":
		return modeladapter.StopError
	default:
		return modeladapter.StopReason(s)
	}
}

func parseChoice(choice apiChoice) message.Message {
	var parts []content.Part

	if choice.Message.Content != nil && *choice.Message.Content != "" {
		parts = append(parts, content.Text{Text: *choice.Message.Content})
	}

	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		parts = append(parts, content.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(args),
		})
	}

	return message.New(role.Assistant, parts...)
}
