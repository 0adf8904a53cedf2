package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderSchema = `{
	"type": "object",
	"properties": {
		"order_id": {"type": "string"},
		"carrier": {"type": "string", "enum": ["ups", "fedex"]}
	},
	"required": ["order_id"]
}`

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	})
}

func echoDef(name string) Definition {
	return Definition{
		Name:        name,
		Description: "Echoes input",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func orderBox(t *testing.T, h Handler, opts ...Option) *ToolBox {
	t.Helper()

	tb := New(opts...)
	require.NoError(t, tb.Register(Definition{
		Name:        "check_order_status",
		Description: "Looks up an order",
		InputSchema: json.RawMessage(orderSchema),
	}, h))
	return tb
}

func TestNew(t *testing.T) {
	tb := New()
	assert.NotNil(t, tb)
	assert.Empty(t, tb.Tools())
	assert.Equal(t, DefaultTimeout, tb.Timeout())
}

func TestRegisterAndGet(t *testing.T) {
	tb := New()
	require.NoError(t, tb.Register(echoDef("echo"), echoHandler()))

	got, ok := tb.Get("echo")
	assert.True(t, ok)
	assert.Equal(t, "echo", got.Name)
	assert.Equal(t, 1, tb.Len())
}

func TestGetNotFound(t *testing.T) {
	tb := New()

	_, ok := tb.Get("missing")
	assert.False(t, ok)
}

func TestRegister_Duplicate(t *testing.T) {
	tb := New()
	require.NoError(t, tb.Register(echoDef("echo"), echoHandler()))

	err := tb.Register(Definition{Name: "echo", Description: "other"}, echoHandler())
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.DuplicateTool))

	got, _ := tb.Get("echo")
	assert.Equal(t, "Echoes input", got.Description)
}

func TestRegister_Invalid(t *testing.T) {
	tb := New()

	assert.Error(t, tb.Register(Definition{}, echoHandler()))
	assert.Error(t, tb.Register(echoDef("nil"), nil))
	assert.Error(t, tb.Register(Definition{Name: "bad", InputSchema: json.RawMessage(`{"type":`)}, echoHandler()))
	assert.Equal(t, 0, tb.Len())
}

func TestRegister_DefaultSchema(t *testing.T) {
	tb := New()
	require.NoError(t, tb.Register(Definition{Name: "noargs"}, echoHandler()))

	got, _ := tb.Get("noargs")
	assert.JSONEq(t, `{"type":"object"}`, string(got.InputSchema))
}

func TestRegisterTools(t *testing.T) {
	tb := New()
	err := tb.RegisterTools(
		Tool{Definition: echoDef("a"), Handler: echoHandler()},
		Tool{Definition: echoDef("b"), Handler: echoHandler()},
		Tool{Definition: echoDef("a"), Handler: echoHandler()},
	)

	require.Error(t, err)
	assert.Equal(t, 2, tb.Len())
}

func TestDefinitions_RegistrationOrder(t *testing.T) {
	tb := New()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, tb.Register(echoDef(name), echoHandler()))
	}

	defs := tb.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "c", defs[0].Name)
	assert.Equal(t, "a", defs[1].Name)
	assert.Equal(t, "b", defs[2].Name)
}

func TestMerge(t *testing.T) {
	a := New()
	require.NoError(t, a.Register(echoDef("one"), echoHandler()))

	b := New()
	require.NoError(t, b.Register(echoDef("two"), echoHandler()))

	require.NoError(t, a.Merge(b))
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 1, b.Len())

	err := a.Merge(b)
	assert.True(t, fault.Is(err, fault.DuplicateTool))
}

func TestFilter(t *testing.T) {
	tb := New(WithTimeout(time.Second))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, tb.Register(echoDef(name), echoHandler()))
	}

	filtered := tb.Filter([]string{"c", "a", "missing", "a"})
	defs := filtered.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "c", defs[0].Name)
	assert.Equal(t, "a", defs[1].Name)
	assert.Equal(t, time.Second, filtered.Timeout())

	assert.Same(t, tb, tb.Filter(nil))
}

func TestDispatch_Success(t *testing.T) {
	tb := orderBox(t, HandlerFunc(func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"status":"shipped"}`), nil
	}))

	res := tb.Dispatch(context.Background(), content.ToolCall{
		ID:    "a",
		Name:  "check_order_status",
		Input: json.RawMessage(`{"order_id":"42"}`),
	})

	assert.Equal(t, "a", res.ToolCallID)
	assert.False(t, res.IsError())
	assert.JSONEq(t, `{"status":"shipped"}`, string(res.Output))
}

func TestDispatch_UnknownTool(t *testing.T) {
	tb := orderBox(t, echoHandler())

	res := tb.Dispatch(context.Background(), content.ToolCall{ID: "b", Name: "refund_order", Input: json.RawMessage(`{}`)})

	require.True(t, res.IsError())
	assert.Equal(t, "b", res.ToolCallID)
	assert.Equal(t, fault.UnknownTool, res.Error.Kind)
	assert.Equal(t, "tool not found: refund_order", res.Error.Message)
}

func TestDispatch_ValidationFailures(t *testing.T) {
	called := false
	tb := orderBox(t, HandlerFunc(func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		called = true
		return nil, nil
	}))

	tests := []struct {
		name  string
		input string
	}{
		{name: "missing required field", input: `{}`},
		{name: "wrong type", input: `{"order_id":42}`},
		{name: "enum violation", input: `{"order_id":"42","carrier":"dhl"}`},
		{name: "not an object", input: `[]`},
		{name: "malformed json", input: `{"order_id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tb.Dispatch(context.Background(), content.ToolCall{
				ID:    "v",
				Name:  "check_order_status",
				Input: json.RawMessage(tt.input),
			})

			require.True(t, res.IsError())
			assert.Equal(t, fault.Validation, res.Error.Kind)
			assert.Contains(t, res.Error.Message, "check_order_status")
		})
	}

	assert.False(t, called)
}

func TestDispatch_EmptyInputTreatedAsObject(t *testing.T) {
	tb := New()
	require.NoError(t, tb.Register(Definition{Name: "noargs"}, echoHandler()))

	res := tb.Dispatch(context.Background(), content.ToolCall{ID: "n", Name: "noargs"})

	assert.False(t, res.IsError())
	assert.JSONEq(t, `{}`, string(res.Output))
}

func TestDispatch_HandlerError(t *testing.T) {
	tb := New()
	require.NoError(t, tb.Register(echoDef("fail"), HandlerFunc(func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("tool failed")
	})))

	res := tb.Dispatch(context.Background(), content.ToolCall{ID: "e", Name: "fail"})

	require.True(t, res.IsError())
	assert.Equal(t, fault.ToolExecution, res.Error.Kind)
	assert.Equal(t, "tool failed", res.Error.Message)
	assert.False(t, res.Error.Retryable)
}

func TestDispatch_HandlerTransientError(t *testing.T) {
	tb := New()
	require.NoError(t, tb.Register(echoDef("flaky"), HandlerFunc(func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, fault.Transient(fault.ToolExecution, errors.New("upstream busy"))
	})))

	res := tb.Dispatch(context.Background(), content.ToolCall{ID: "e", Name: "flaky"})

	require.True(t, res.IsError())
	assert.Equal(t, fault.ToolExecution, res.Error.Kind)
	assert.True(t, res.Error.Retryable)
}

func TestDispatch_Panic(t *testing.T) {
	tb := New()
	require.NoError(t, tb.Register(echoDef("boom"), HandlerFunc(func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	})))

	res := tb.Dispatch(context.Background(), content.ToolCall{ID: "p", Name: "boom"})

	require.True(t, res.IsError())
	assert.Equal(t, fault.ToolExecution, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "panicked")
	assert.Contains(t, res.Error.Message, "kaboom")
}

func TestDispatch_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	tb := New(WithTimeout(20 * time.Millisecond))
	require.NoError(t, tb.Register(echoDef("slow"), HandlerFunc(func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-release
		return nil, nil
	})))

	start := time.Now()
	res := tb.Dispatch(context.Background(), content.ToolCall{ID: "s", Name: "slow"})

	require.True(t, res.IsError())
	assert.Equal(t, fault.ToolExecution, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "timed out after")
	assert.True(t, res.Error.Retryable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatch_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	tb := New()
	require.NoError(t, tb.Register(echoDef("wait"), HandlerFunc(func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	res := tb.Dispatch(ctx, content.ToolCall{ID: "w", Name: "wait"})

	require.True(t, res.IsError())
	assert.Equal(t, fault.Cancelled, res.Error.Kind)
}

func TestDispatch_Concurrent(t *testing.T) {
	tb := New()
	require.NoError(t, tb.Register(echoDef("echo"), echoHandler()))

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			res := tb.Dispatch(context.Background(), content.ToolCall{ID: "c", Name: "echo", Input: json.RawMessage(`{"n":1}`)})
			assert.False(t, res.IsError())
		})
	}
	wg.Wait()
}
