// Package agent runs the reasoning loop: it repeatedly asks the backend for
// the next step of a session, executes the tool calls it requests, and feeds
// the results back until the backend produces a final answer or the session
// hits a terminal condition.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/agentloop/pkg/agentctx"
	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter"
)

var (
	// ErrSessionClosed is returned when running a session whose status is
	// no longer active.
	ErrSessionClosed = errors.New("agent: session closed")
	// ErrSessionBusy is returned when a session is already being run.
	ErrSessionBusy = errors.New("agent: session already running")
)

// Event kinds passed to an EventNotifier.
const (
	EventStateChanged  = "state_changed"
	EventToolCallStart = "tool_call_start"
	EventToolCallEnd   = "tool_call_end"
)

// StateChange is the payload of an EventStateChanged event.
type StateChange struct {
	From State
	To   State
}

// ToolCallEnd is the payload of an EventToolCallEnd event.
type ToolCallEnd struct {
	Call     content.ToolCall
	Result   content.ToolResult
	Duration time.Duration
}

// EventNotifier observes loop progress. It is called synchronously; tool
// events may arrive from several goroutines at once.
type EventNotifier func(ctx context.Context, kind, sessionID string, data any)

// Options configures an Agent.
type Options struct {
	MaxTurns        int                     // Backend round trips allowed per session. Required.
	MaxConcurrency  int                     // Tool calls run at once (0 = one worker per call).
	Middleware      []Middleware            // Applied around Run().
	OutputGuardrail func(text string) error // Checked against the final answer before completing.
	EventNotifier   EventNotifier           // Optional.
	Logger          *slog.Logger            // Optional; defaults to slog.Default().
}

// Agent drives sessions through the reasoning loop. It holds no per-session
// state, so one Agent can run many sessions concurrently.
type Agent struct {
	invoker *modeladapter.Invoker
	options Options
	logger  *slog.Logger
}

// New creates an Agent that calls the backend through invoker.
func New(invoker *modeladapter.Invoker, opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{invoker: invoker, options: opts, logger: logger}
}

// Run appends input as a user message and drives s until it reaches a
// terminal status. The returned error is only set for misuse: a closed or
// busy session, or an empty input. Every other failure is reported in the
// Outcome.
func (a *Agent) Run(ctx context.Context, s *Session, input string) (Outcome, error) {
	var runner Runner = RunnerFunc(a.run)

	// Apply middleware in reverse order so the first middleware is outermost.
	for i := len(a.options.Middleware) - 1; i >= 0; i-- {
		runner = a.options.Middleware[i](runner)
	}

	return runner.Run(ctx, s, input)
}

func (a *Agent) run(ctx context.Context, s *Session, input string) (Outcome, error) {
	if strings.TrimSpace(input) == "" {
		return Outcome{}, fault.New(fault.Validation, "user message is empty")
	}
	if err := s.begin(); err != nil {
		return Outcome{}, err
	}
	defer s.end()

	ctx = agentctx.WithSessionID(ctx, s.ID())

	if ids := s.unanswered(); len(ids) > 0 {
		a.fail(ctx, s, fault.New(fault.Structural, "history has unanswered tool calls: %s", strings.Join(ids, ", ")))
		return s.Outcome(), nil
	}

	s.append(message.NewText(role.User, input))

	for {
		if err := ctx.Err(); err != nil {
			a.fail(ctx, s, fault.Wrap(fault.Cancelled, err))
			return s.Outcome(), nil
		}
		if !s.startTurn(a.options.MaxTurns) {
			a.finish(ctx, s, StateMaxTurnsExceeded, "", &fault.Descriptor{
				Kind:    fault.MaxTurnsExceeded,
				Message: fmt.Sprintf("turn limit of %d reached before a final answer", a.options.MaxTurns),
			})
			return s.Outcome(), nil
		}
		a.transition(ctx, s, StateAwaitingBackend)

		resp, err := a.invoker.Invoke(ctx, s)
		if err != nil {
			a.fail(ctx, s, err)
			return s.Outcome(), nil
		}

		s.usage.Add(resp.Usage)
		s.append(resp.Message)

		if resp.StopReason == modeladapter.StopEndTurn {
			text := resp.Message.TextContent()
			if g := a.options.OutputGuardrail; g != nil {
				if err := g(text); err != nil {
					a.fail(ctx, s, fault.New(fault.Validation, "final answer rejected: %v", err))
					return s.Outcome(), nil
				}
			}
			a.finish(ctx, s, StateCompleted, text, nil)
			return s.Outcome(), nil
		}

		a.transition(ctx, s, StateExecutingTools)

		results := a.dispatch(ctx, s, resp.Message.ToolCalls())
		if err := ctx.Err(); err != nil {
			// The interrupted turn's results are discarded.
			a.fail(ctx, s, fault.Wrap(fault.Cancelled, err))
			return s.Outcome(), nil
		}

		parts := make([]content.Part, len(results))
		for i, r := range results {
			parts[i] = r
		}
		s.append(message.New(role.Tool, parts...))
	}
}

// dispatch runs every call concurrently and returns the results in request
// order.
func (a *Agent) dispatch(ctx context.Context, s *Session, calls []content.ToolCall) []content.ToolResult {
	results := make([]content.ToolResult, len(calls))

	workers := a.options.MaxConcurrency
	if workers <= 0 || workers > len(calls) {
		workers = len(calls)
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Go(func() {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = content.Failure(tc.ID, fault.Describe(ctx.Err(), fault.Cancelled))
				return
			}
			defer func() { <-sem }()

			results[i] = a.callTool(ctx, s, tc)
		})
	}
	wg.Wait()

	return results
}

func (a *Agent) callTool(ctx context.Context, s *Session, tc content.ToolCall) content.ToolResult {
	a.notify(ctx, s, EventToolCallStart, tc)

	start := time.Now()
	result := s.registry.Dispatch(ctx, tc)
	elapsed := time.Since(start)

	if result.IsError() {
		a.logger.DebugContext(ctx, "tool call failed",
			"session", s.ID(),
			"tool", tc.Name,
			"call_id", tc.ID,
			"kind", result.Error.Kind,
			"error", result.Error.Message,
		)
	}

	a.notify(ctx, s, EventToolCallEnd, ToolCallEnd{Call: tc, Result: result, Duration: elapsed})

	return result
}

func (a *Agent) transition(ctx context.Context, s *Session, next State) {
	prev, ok := s.transition(next)
	if !ok {
		return
	}
	a.logger.DebugContext(ctx, "session transition", "session", s.ID(), "from", prev, "to", next, "turn", s.TurnCount())
	a.notify(ctx, s, EventStateChanged, StateChange{From: prev, To: next})
}

func (a *Agent) fail(ctx context.Context, s *Session, err error) {
	d := fault.Describe(err, fault.ModelInvocation)
	a.finish(ctx, s, StateFailed, "", &d)
}

func (a *Agent) finish(ctx context.Context, s *Session, state State, text string, failure *fault.Descriptor) {
	prev, ok := s.finish(state, text, failure)
	if !ok {
		return
	}

	if failure != nil {
		a.logger.DebugContext(ctx, "session transition",
			"session", s.ID(), "from", prev, "to", state,
			"kind", failure.Kind, "error", failure.Message)
	} else {
		a.logger.DebugContext(ctx, "session transition", "session", s.ID(), "from", prev, "to", state)
	}
	a.notify(ctx, s, EventStateChanged, StateChange{From: prev, To: state})
}

func (a *Agent) notify(ctx context.Context, s *Session, kind string, data any) {
	if a.options.EventNotifier != nil {
		a.options.EventNotifier(ctx, kind, s.ID(), data)
	}
}
