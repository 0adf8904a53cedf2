// Package modeltest provides a deterministic Completer for tests.
package modeltest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
)

// Step configures one backend call in a scripted sequence. When Err is set
// the call fails with it and Response is ignored.
type Step struct {
	Response modeladapter.Response
	Err      error
}

// ScriptedCompleter replays a fixed sequence of steps and records every
// request it receives. It is safe for concurrent use.
type ScriptedCompleter struct {
	mu       sync.Mutex
	index    int
	steps    []Step
	requests []modeladapter.Request
}

var _ modeladapter.Completer = (*ScriptedCompleter)(nil)

// NewScripted creates a ScriptedCompleter that replays steps in order.
func NewScripted(steps ...Step) *ScriptedCompleter {
	cloned := make([]Step, len(steps))
	copy(cloned, steps)
	return &ScriptedCompleter{steps: cloned}
}

// Complete returns the next scripted step. It fails once the script is
// exhausted.
func (s *ScriptedCompleter) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Messages = append([]message.Message(nil), req.Messages...)
	s.requests = append(s.requests, req)

	if err := ctx.Err(); err != nil {
		return modeladapter.Response{}, err
	}

	if s.index >= len(s.steps) {
		return modeladapter.Response{}, fmt.Errorf("script exhausted at step %d", s.index+1)
	}

	current := s.steps[s.index]
	s.index++
	if current.Err != nil {
		return modeladapter.Response{}, current.Err
	}

	resp := current.Response
	if resp.Message.Role == "" {
		resp.Message.Role = role.Assistant
	}
	return resp, nil
}

// Calls returns the number of Complete calls so far.
func (s *ScriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.requests)
}

// Requests returns a copy of every request received so far.
func (s *ScriptedCompleter) Requests() []modeladapter.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]modeladapter.Request(nil), s.requests...)
}

// Final returns a step that ends the turn with text.
func Final(text string) Step {
	return Step{Response: modeladapter.Response{
		Message:    message.NewText(role.Assistant, text),
		StopReason: modeladapter.StopEndTurn,
	}}
}

// Call builds a tool call with JSON-encoded input. It panics if input cannot
// be encoded.
func Call(id, name string, input any) content.ToolCall {
	raw, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	return content.ToolCall{ID: id, Name: name, Input: raw}
}

// ToolUse returns a step that requests the given tool calls.
func ToolUse(calls ...content.ToolCall) Step {
	parts := make([]content.Part, len(calls))
	for i, c := range calls {
		parts[i] = c
	}
	return Step{Response: modeladapter.Response{
		Message:    message.New(role.Assistant, parts...),
		StopReason: modeladapter.StopToolUse,
	}}
}

// WithUsage returns a copy of s that reports the given token counts.
func (s Step) WithUsage(input, output int) Step {
	s.Response.Usage = usage.TokenCount{InputTokens: input, OutputTokens: output}
	return s
}

// Fail returns a step that fails with err.
func Fail(err error) Step {
	return Step{Err: err}
}
