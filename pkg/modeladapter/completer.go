package modeladapter

import (
	"context"

	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
)

// StopReason tells why the backend ended its turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// Valid reports whether s is one of the known stop reasons.
func (s StopReason) Valid() bool {
	switch s {
	case StopEndTurn, StopToolUse, StopMaxTokens, StopError:
		return true
	}
	return false
}

// Request is a single backend call.
type Request struct {
	SystemPrompt string
	Messages     []message.Message
	Tools        []toolbox.Definition
	MaxTokens    int
}

// Response is the backend's reply to a Request.
type Response struct {
	Message    message.Message
	StopReason StopReason
	Usage      usage.TokenCount
}

// Completer sends a request to a reasoning backend and returns its reply.
// Implementations must not retry; retries belong to the Invoker.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleterFunc adapts a plain function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

// Complete calls f(ctx, req).
func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// UsageReporter provides token usage information from a completer.
// Completers that embed ModelAdapter implement this interface automatically.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
	ModelMaxTokens() int
}
