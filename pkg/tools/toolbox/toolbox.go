// Package toolbox maps tool names to validated, executable handlers.
//
// A ToolBox is populated at startup and then shared read-only by every
// session. Dispatch never fails: unknown tools, invalid input, handler errors,
// panics, and timeouts all come back as a tool result carrying a
// fault.Descriptor so the reasoning loop can hand them to the backend.
package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/google/jsonschema-go/jsonschema"
)

// DefaultTimeout bounds a single handler invocation when no timeout is set.
const DefaultTimeout = 30 * time.Second

type entry struct {
	tool   Tool
	schema *jsonschema.Resolved
}

// ToolBox is a registry of tools. It is safe for concurrent use.
type ToolBox struct {
	mu      sync.RWMutex
	tools   map[string]entry
	order   []string
	timeout time.Duration
}

// Option configures a ToolBox.
type Option func(*ToolBox)

// WithTimeout sets the per-invocation handler timeout.
func WithTimeout(d time.Duration) Option {
	return func(tb *ToolBox) {
		if d > 0 {
			tb.timeout = d
		}
	}
}

// New creates a new ToolBox ready for use.
func New(opts ...Option) *ToolBox {
	tb := &ToolBox{
		tools:   make(map[string]entry),
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(tb)
	}
	return tb
}

// Timeout returns the per-invocation handler timeout.
func (tb *ToolBox) Timeout() time.Duration { return tb.timeout }

// Register binds def.Name to handler. It fails with a fault.DuplicateTool
// error if the name is already registered.
func (tb *ToolBox) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return errors.New("toolbox: tool name is empty")
	}
	if handler == nil {
		return fmt.Errorf("toolbox: tool %q: handler is nil", def.Name)
	}

	schema, err := compileSchema(def.InputSchema)
	if err != nil {
		return fmt.Errorf("toolbox: tool %q: invalid input schema: %w", def.Name, err)
	}

	if len(def.InputSchema) == 0 {
		def.InputSchema = defaultSchema
	}
	def.InputSchema = append(json.RawMessage(nil), def.InputSchema...)

	tb.mu.Lock()
	defer tb.mu.Unlock()

	if _, exists := tb.tools[def.Name]; exists {
		return fault.New(fault.DuplicateTool, "tool %q already registered", def.Name)
	}

	tb.tools[def.Name] = entry{tool: Tool{Definition: def, Handler: handler}, schema: schema}
	tb.order = append(tb.order, def.Name)

	return nil
}

// RegisterTools registers each tool in order and stops at the first error.
func (tb *ToolBox) RegisterTools(tools ...Tool) error {
	for _, t := range tools {
		if err := tb.Register(t.Definition, t.Handler); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a tool by name and a boolean indicating whether it was found.
func (tb *ToolBox) Get(name string) (Tool, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	e, ok := tb.tools[name]
	return e.tool, ok
}

// Len returns the number of registered tools.
func (tb *ToolBox) Len() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	return len(tb.order)
}

// Merge registers all tools from other into tb, in other's registration
// order. A name collision fails with a fault.DuplicateTool error.
func (tb *ToolBox) Merge(other *ToolBox) error {
	return tb.RegisterTools(other.Tools()...)
}

// Tools returns all registered tools in registration order.
func (tb *ToolBox) Tools() []Tool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	result := make([]Tool, 0, len(tb.order))
	for _, name := range tb.order {
		result = append(result, tb.tools[name].tool)
	}
	return result
}

// Definitions returns the definitions of all registered tools in
// registration order.
func (tb *ToolBox) Definitions() []Definition {
	tools := tb.Tools()

	defs := make([]Definition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition
	}
	return defs
}

// Filter returns a new ToolBox containing only the named tools. Unknown names
// are skipped. An empty list returns tb itself.
func (tb *ToolBox) Filter(names []string) *ToolBox {
	if len(names) == 0 {
		return tb
	}

	tb.mu.RLock()
	defer tb.mu.RUnlock()

	out := New(WithTimeout(tb.timeout))
	for _, name := range names {
		e, ok := tb.tools[name]
		if !ok {
			continue
		}
		if _, dup := out.tools[name]; dup {
			continue
		}
		out.tools[name] = e
		out.order = append(out.order, name)
	}
	return out
}

// Dispatch executes a tool call and returns its result. It never returns an
// error: every failure is recorded on the result.
func (tb *ToolBox) Dispatch(ctx context.Context, tc content.ToolCall) content.ToolResult {
	tb.mu.RLock()
	e, ok := tb.tools[tc.Name]
	tb.mu.RUnlock()

	if !ok {
		return content.Failure(tc.ID, fault.Descriptor{
			Kind:    fault.UnknownTool,
			Message: fmt.Sprintf("tool not found: %s", tc.Name),
		})
	}

	input := tc.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	if err := validate(tc.Name, e.schema, input); err != nil {
		return content.Failure(tc.ID, fault.Describe(err, fault.Validation))
	}

	out, err := tb.invoke(ctx, e.tool, input)
	if err != nil {
		return content.Failure(tc.ID, fault.Describe(err, fault.ToolExecution))
	}

	return content.Success(tc.ID, out)
}

type callOutcome struct {
	output json.RawMessage
	err    error
}

// invoke runs the handler under the per-invocation timeout. The handler runs
// on its own goroutine so a handler that ignores its context cannot hold the
// caller past the deadline.
func (tb *ToolBox) invoke(ctx context.Context, t Tool, input json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.Cancelled, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, tb.timeout)
	defer cancel()

	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: fmt.Errorf("tool %q panicked: %v", t.Name, r)}
			}
		}()

		out, err := t.Handler.Call(callCtx, input)
		done <- callOutcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.output, nil
		}
		return nil, tb.classify(ctx, callCtx, t.Name, o.err)
	case <-callCtx.Done():
		return nil, tb.classify(ctx, callCtx, t.Name, callCtx.Err())
	}
}

func (tb *ToolBox) classify(parent, callCtx context.Context, name string, err error) error {
	if parent.Err() != nil {
		return fault.Wrap(fault.Cancelled, parent.Err())
	}

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &fault.Error{
			Kind:      fault.ToolExecution,
			Msg:       fmt.Sprintf("tool %q timed out after %s", name, tb.timeout),
			Retryable: true,
			Err:       err,
		}
	}

	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}

	return &fault.Error{
		Kind:      fault.ToolExecution,
		Msg:       err.Error(),
		Retryable: fault.IsRetryable(err),
		Err:       err,
	}
}
