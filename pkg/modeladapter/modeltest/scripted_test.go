package modeltest

import (
	"context"
	"errors"
	"testing"

	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedCompleter_Replays(t *testing.T) {
	s := NewScripted(
		ToolUse(Call("a", "lookup", map[string]string{"id": "1"})),
		Fail(errors.New("boom")),
		Final("done"),
	)

	resp, err := s.Complete(context.Background(), modeladapter.Request{SystemPrompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, modeladapter.StopToolUse, resp.StopReason)
	require.Len(t, resp.Message.ToolCalls(), 1)
	assert.JSONEq(t, `{"id":"1"}`, string(resp.Message.ToolCalls()[0].Input))

	_, err = s.Complete(context.Background(), modeladapter.Request{})
	assert.EqualError(t, err, "boom")

	resp, err = s.Complete(context.Background(), modeladapter.Request{})
	require.NoError(t, err)
	assert.Equal(t, role.Assistant, resp.Message.Role)
	assert.Equal(t, "done", resp.Message.TextContent())

	_, err = s.Complete(context.Background(), modeladapter.Request{})
	assert.ErrorContains(t, err, "script exhausted at step 4")

	assert.Equal(t, 4, s.Calls())
	assert.Equal(t, "p", s.Requests()[0].SystemPrompt)
}

func TestScriptedCompleter_CancelledContext(t *testing.T) {
	s := NewScripted(Final("never"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Complete(ctx, modeladapter.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
