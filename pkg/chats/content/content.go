// Package content defines the content parts carried by conversation turns.
package content

import (
	"encoding/json"

	"github.com/germanamz/agentloop/pkg/fault"
)

// Part kinds returned by PartKind.
const (
	KindText       = "text"
	KindToolCall   = "tool_call"
	KindToolResult = "tool_result"
)

// Part is a piece of content within a message.
type Part interface {
	PartKind() string
}

// Text is a plain text content part.
type Text struct {
	Text string
}

func (t Text) PartKind() string { return KindText }

// ToolCall represents the backend's request to invoke a tool.
// Input holds the raw JSON arguments to avoid unnecessary deserialization.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

func (tc ToolCall) PartKind() string { return KindToolCall }

// ToolResult holds the outcome of a tool invocation. A failed invocation has
// Error set and no Output.
type ToolResult struct {
	ToolCallID string
	Output     json.RawMessage
	Error      *fault.Descriptor
}

func (tr ToolResult) PartKind() string { return KindToolResult }

// IsError reports whether the invocation failed.
func (tr ToolResult) IsError() bool { return tr.Error != nil }

// Text renders the result as a string suitable for backends that only accept
// textual tool output. Errors render as "kind: message" so the backend can
// tell an unknown tool from a failed one.
func (tr ToolResult) Text() string {
	if tr.Error != nil {
		return string(tr.Error.Kind) + ": " + tr.Error.Message
	}

	var s string
	if err := json.Unmarshal(tr.Output, &s); err == nil {
		return s
	}

	return string(tr.Output)
}

// Success creates a ToolResult with the given output.
func Success(id string, output json.RawMessage) ToolResult {
	return ToolResult{ToolCallID: id, Output: output}
}

// Failure creates a ToolResult carrying an error descriptor.
func Failure(id string, d fault.Descriptor) ToolResult {
	return ToolResult{ToolCallID: id, Error: &d}
}
