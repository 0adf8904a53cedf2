package relay

import (
	"encoding/json"

	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
)

// Frame types.
const (
	frameRequest  = "request"
	frameResponse = "response"
	frameError    = "error"
)

// frame is the JSON envelope exchanged over the socket. Exactly one payload
// matching Type is set.
type frame struct {
	Type     string         `json:"type"`
	Request  *wireRequest   `json:"request,omitempty"`
	Response *wireResponse  `json:"response,omitempty"`
	Error    *wireErrorBody `json:"error,omitempty"`
}

type wireTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type wireRequest struct {
	Model        string            `json:"model,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Messages     []message.Message `json:"messages"`
	Tools        []wireTool        `json:"tools,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Message      message.Message `json:"message"`
	StopReason   string          `json:"stop_reason"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
}

type wireErrorBody struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func encodeTools(defs []toolbox.Definition) []wireTool {
	if len(defs) == 0 {
		return nil
	}

	out := make([]wireTool, len(defs))
	for i, d := range defs {
		out[i] = wireTool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}
	return out
}

func decodeRequest(w *wireRequest) modeladapter.Request {
	req := modeladapter.Request{
		SystemPrompt: w.SystemPrompt,
		Messages:     w.Messages,
		MaxTokens:    w.MaxTokens,
	}
	for _, t := range w.Tools {
		req.Tools = append(req.Tools, toolbox.Definition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return req
}
