package modeladapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/germanamz/agentloop/pkg/chats/chat"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/retry"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
)

// Transcript is the read-only view of a session the Invoker needs to build a
// request.
type Transcript interface {
	SystemPrompt() string
	Messages() []message.Message
	Definitions() []toolbox.Definition
}

// InvokerOpts configures an Invoker.
type InvokerOpts struct {
	Retrier   *retry.Retrier // Required.
	MaxTokens int            // Per-response token limit sent with every request.
	Logger    *slog.Logger   // Optional; defaults to slog.Default().
}

// Invoker sends a transcript to a Completer through the retry layer and
// checks the response for structural soundness. It never mutates the
// transcript.
type Invoker struct {
	completer Completer
	retrier   *retry.Retrier
	maxTokens int
	logger    *slog.Logger
}

// NewInvoker creates an Invoker around c.
func NewInvoker(c Completer, opts InvokerOpts) *Invoker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Invoker{
		completer: c,
		retrier:   opts.Retrier,
		maxTokens: opts.MaxTokens,
		logger:    logger,
	}
}

// Invoke performs one logical backend call. Transient failures are retried
// per the retry policy. The returned error is always a *fault.Error:
// ModelInvocation for backend failures, Structural for malformed responses,
// Cancelled when ctx ends.
func (i *Invoker) Invoke(ctx context.Context, t Transcript) (Response, error) {
	msgs := t.Messages()
	req := Request{
		SystemPrompt: t.SystemPrompt(),
		Messages:     msgs,
		Tools:        t.Definitions(),
		MaxTokens:    i.maxTokens,
	}

	resp, err := retry.Do(ctx, i.retrier, func(ctx context.Context, attempt int) (Response, error) {
		start := time.Now()
		r, err := i.completer.Complete(ctx, req)
		if err != nil {
			return Response{}, Classify(err)
		}

		i.logger.Debug("backend call completed",
			"attempt", attempt,
			"stop_reason", r.StopReason,
			"input_tokens", r.Usage.InputTokens,
			"output_tokens", r.Usage.OutputTokens,
			"elapsed", time.Since(start),
		)

		return r, nil
	})
	if err != nil {
		return Response{}, i.invocationError(ctx, err)
	}

	if err := checkResponse(&resp, msgs); err != nil {
		return Response{}, err
	}

	return resp, nil
}

func (i *Invoker) invocationError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.Cancelled, err)
	}

	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		i.logger.Warn("backend retries exhausted", "attempts", ex.Attempts, "error", ex.Err)
		return &fault.Error{
			Kind:      fault.ModelInvocation,
			Msg:       ex.Error(),
			Retryable: true,
			Err:       ex,
		}
	}

	if fault.KindOf(err) == "" {
		return fault.Wrap(fault.ModelInvocation, err)
	}

	return err
}

// checkResponse rejects responses the loop cannot act on. prior is the
// conversation the request was built from; call ids must not repeat any id
// already in it.
func checkResponse(resp *Response, prior []message.Message) error {
	if resp.Message.Role == "" {
		resp.Message.Role = role.Assistant
	}
	if resp.Message.Role != role.Assistant {
		return fault.New(fault.Structural, "response role is %q, want assistant", resp.Message.Role)
	}

	calls := resp.Message.ToolCalls()

	switch resp.StopReason {
	case StopEndTurn:
		if len(calls) > 0 {
			return fault.New(fault.Structural, "end_turn response carries %d tool calls", len(calls))
		}
	case StopToolUse:
		if len(calls) == 0 {
			return fault.New(fault.Structural, "tool_use response carries no tool calls")
		}
	case StopMaxTokens:
		return fault.New(fault.Structural, "response truncated at the token limit")
	case StopError:
		return fault.New(fault.ModelInvocation, "backend reported an error: %s", resp.Message.TextContent())
	default:
		return fault.New(fault.Structural, "unknown stop reason %q", resp.StopReason)
	}

	seen := chat.New(prior...).CallIDs()
	for _, tc := range calls {
		if tc.ID == "" {
			return fault.New(fault.Structural, "tool call %q has no id", tc.Name)
		}
		if _, dup := seen[tc.ID]; dup {
			return fault.New(fault.Structural, "duplicate tool call id %q", tc.ID)
		}
		seen[tc.ID] = struct{}{}
	}

	return nil
}
