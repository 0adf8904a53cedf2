package message

import (
	"encoding/json"
	"fmt"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/fault"
)

type wireMessage struct {
	Role  role.Role  `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Kind       string            `json:"kind"`
	Text       string            `json:"text,omitempty"`
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Input      json.RawMessage   `json:"input,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Output     json.RawMessage   `json:"output,omitempty"`
	Error      *fault.Descriptor `json:"error,omitempty"`
}

// MarshalJSON encodes the message with each part tagged by its kind.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Role: m.Role, Parts: make([]wirePart, 0, len(m.Parts))}

	for _, p := range m.Parts {
		switch v := p.(type) {
		case content.Text:
			w.Parts = append(w.Parts, wirePart{Kind: content.KindText, Text: v.Text})
		case content.ToolCall:
			w.Parts = append(w.Parts, wirePart{Kind: content.KindToolCall, ID: v.ID, Name: v.Name, Input: v.Input})
		case content.ToolResult:
			w.Parts = append(w.Parts, wirePart{Kind: content.KindToolResult, ToolCallID: v.ToolCallID, Output: v.Output, Error: v.Error})
		default:
			return nil, fmt.Errorf("message: unsupported part kind %q", p.PartKind())
		}
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes a message produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	parts := make([]content.Part, 0, len(w.Parts))
	for _, p := range w.Parts {
		switch p.Kind {
		case content.KindText:
			parts = append(parts, content.Text{Text: p.Text})
		case content.KindToolCall:
			parts = append(parts, content.ToolCall{ID: p.ID, Name: p.Name, Input: p.Input})
		case content.KindToolResult:
			parts = append(parts, content.ToolResult{ToolCallID: p.ToolCallID, Output: p.Output, Error: p.Error})
		default:
			return fmt.Errorf("message: unknown part kind %q", p.Kind)
		}
	}

	m.Role = w.Role
	m.Parts = parts

	return nil
}
