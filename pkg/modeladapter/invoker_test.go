package modeladapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/modeladapter/modeltest"
	"github.com/germanamz/agentloop/pkg/retry"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transcript struct {
	prompt string
	msgs   []message.Message
	defs   []toolbox.Definition
}

func (t transcript) SystemPrompt() string              { return t.prompt }
func (t transcript) Messages() []message.Message       { return t.msgs }
func (t transcript) Definitions() []toolbox.Definition { return t.defs }

func userTranscript() transcript {
	return transcript{
		prompt: "You are a support agent.",
		msgs:   []message.Message{message.NewText(role.User, "Where is order 42?")},
		defs:   []toolbox.Definition{{Name: "check_order_status", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	}
}

func newInvoker(c modeladapter.Completer, sleeps *[]time.Duration) *modeladapter.Invoker {
	r := retry.New(retry.Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	r.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	})
	r.SetRandFunc(func() float64 { return 0.5 })

	return modeladapter.NewInvoker(c, modeladapter.InvokerOpts{Retrier: r, MaxTokens: 512})
}

func TestInvoker_BuildsRequest(t *testing.T) {
	s := modeltest.NewScripted(modeltest.Final("It shipped."))
	inv := newInvoker(s, nil)

	resp, err := inv.Invoke(context.Background(), userTranscript())
	require.NoError(t, err)
	assert.Equal(t, "It shipped.", resp.Message.TextContent())

	req := s.Requests()[0]
	assert.Equal(t, "You are a support agent.", req.SystemPrompt)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "check_order_status", req.Tools[0].Name)
}

func TestInvoker_RetriesTransientFailures(t *testing.T) {
	var sleeps []time.Duration
	s := modeltest.NewScripted(
		modeltest.Fail(&modeladapter.RateLimitError{Body: "busy"}),
		modeltest.Fail(&modeladapter.StatusError{StatusCode: 503}),
		modeltest.Final("ok"),
	)
	inv := newInvoker(s, &sleeps)

	resp, err := inv.Invoke(context.Background(), userTranscript())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.TextContent())
	assert.Equal(t, 3, s.Calls())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps)
}

func TestInvoker_ExhaustedThrottling(t *testing.T) {
	throttled := &modeladapter.RateLimitError{Body: "busy"}
	s := modeltest.NewScripted(modeltest.Fail(throttled), modeltest.Fail(throttled), modeltest.Fail(throttled))
	inv := newInvoker(s, nil)

	_, err := inv.Invoke(context.Background(), userTranscript())
	require.Error(t, err)
	assert.Equal(t, fault.ModelInvocation, fault.KindOf(err))
	assert.Equal(t, 3, s.Calls())

	var ex *retry.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
}

func TestInvoker_FatalNotRetried(t *testing.T) {
	s := modeltest.NewScripted(modeltest.Fail(&modeladapter.StatusError{StatusCode: 401, Body: "bad key"}))
	inv := newInvoker(s, nil)

	_, err := inv.Invoke(context.Background(), userTranscript())
	require.Error(t, err)
	assert.Equal(t, fault.ModelInvocation, fault.KindOf(err))
	assert.False(t, fault.Describe(err, fault.ModelInvocation).Retryable)
	assert.Equal(t, 1, s.Calls())
}

func TestInvoker_Cancelled(t *testing.T) {
	s := modeltest.NewScripted(modeltest.Final("never"))
	inv := newInvoker(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := inv.Invoke(ctx, userTranscript())
	assert.True(t, fault.Is(err, fault.Cancelled))
}

func TestInvoker_StructuralErrors(t *testing.T) {
	prior := userTranscript()
	prior.msgs = append(prior.msgs,
		message.New(role.Assistant, content.ToolCall{ID: "old", Name: "check_order_status", Input: json.RawMessage(`{}`)}),
		message.New(role.Tool, content.Success("old", json.RawMessage(`1`))),
	)

	tests := []struct {
		name string
		resp modeladapter.Response
		kind fault.Kind
	}{
		{
			name: "unknown stop reason",
			resp: modeladapter.Response{Message: message.NewText(role.Assistant, "hm"), StopReason: "paused"},
			kind: fault.Structural,
		},
		{
			name: "tool_use without calls",
			resp: modeladapter.Response{Message: message.NewText(role.Assistant, "hm"), StopReason: modeladapter.StopToolUse},
			kind: fault.Structural,
		},
		{
			name: "end_turn with calls",
			resp: modeladapter.Response{
				Message:    message.New(role.Assistant, modeltest.Call("a", "x", nil)),
				StopReason: modeladapter.StopEndTurn,
			},
			kind: fault.Structural,
		},
		{
			name: "missing call id",
			resp: modeltest.ToolUse(modeltest.Call("", "x", nil)).Response,
			kind: fault.Structural,
		},
		{
			name: "duplicate call id in response",
			resp: modeltest.ToolUse(modeltest.Call("a", "x", nil), modeltest.Call("a", "y", nil)).Response,
			kind: fault.Structural,
		},
		{
			name: "call id reused from earlier turn",
			resp: modeltest.ToolUse(modeltest.Call("old", "x", nil)).Response,
			kind: fault.Structural,
		},
		{
			name: "max tokens",
			resp: modeladapter.Response{Message: message.NewText(role.Assistant, "trunc"), StopReason: modeladapter.StopMaxTokens},
			kind: fault.Structural,
		},
		{
			name: "wrong role",
			resp: modeladapter.Response{Message: message.NewText(role.User, "hi"), StopReason: modeladapter.StopEndTurn},
			kind: fault.Structural,
		},
		{
			name: "backend error stop",
			resp: modeladapter.Response{Message: message.NewText(role.Assistant, "overloaded"), StopReason: modeladapter.StopError},
			kind: fault.ModelInvocation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := modeltest.NewScripted(modeltest.Step{Response: tt.resp})
			inv := newInvoker(s, nil)

			_, err := inv.Invoke(context.Background(), prior)
			require.Error(t, err)
			assert.Equal(t, tt.kind, fault.KindOf(err))
			assert.Equal(t, 1, s.Calls(), "structural failures are not retried")
		})
	}
}

func TestInvoker_DefaultsAssistantRole(t *testing.T) {
	c := modeladapter.CompleterFunc(func(_ context.Context, _ modeladapter.Request) (modeladapter.Response, error) {
		return modeladapter.Response{
			Message:    message.Message{Parts: []content.Part{content.Text{Text: "hi"}}},
			StopReason: modeladapter.StopEndTurn,
		}, nil
	})
	inv := newInvoker(c, nil)

	resp, err := inv.Invoke(context.Background(), userTranscript())
	require.NoError(t, err)
	assert.Equal(t, role.Assistant, resp.Message.Role)
}

func TestInvoker_DoesNotMutateTranscript(t *testing.T) {
	tr := userTranscript()
	c := modeladapter.CompleterFunc(func(_ context.Context, req modeladapter.Request) (modeladapter.Response, error) {
		return modeladapter.Response{}, errors.New("unexpected")
	})
	inv := newInvoker(c, nil)

	_, _ = inv.Invoke(context.Background(), tr)
	assert.Len(t, tr.msgs, 1)
}
