package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
	"github.com/germanamz/agentloop/pkg/retry"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
)

// Outcome is the terminal result of a session. Exactly one of FinalText and
// Failure is meaningful: FinalText when Status is completed, Failure
// otherwise.
type Outcome struct {
	SessionID string
	Status    Status
	FinalText string
	Failure   *fault.Descriptor
	Turns     int
	Usage     usage.TokenCount // Tokens consumed by this session's backend calls.
}

// Policy bundles the limits applied to a session. Every field is required.
type Policy struct {
	Retry     retry.Policy
	MaxTurns  int
	MaxTokens int
}

// Validate checks that every limit is set to a usable value.
func (p Policy) Validate() error {
	if err := p.Retry.Validate(); err != nil {
		return fmt.Errorf("agent: policy: %w", err)
	}
	if p.MaxTurns < 1 {
		return errors.New("agent: policy: max turns must be at least 1")
	}
	if p.MaxTokens < 1 {
		return errors.New("agent: policy: max tokens must be at least 1")
	}
	return nil
}

// RunInput is everything RunSession needs to run one interaction.
type RunInput struct {
	UserMessage  string
	SystemPrompt string
	Registry     *toolbox.ToolBox
	Policy       Policy
	Logger       *slog.Logger // Optional; defaults to slog.Default().
}

// RunSession runs a fresh session to completion against completer and
// returns its outcome. Invalid input yields a failed outcome with a
// validation descriptor and no backend call.
func RunSession(ctx context.Context, completer modeladapter.Completer, in RunInput) Outcome {
	s := NewSession(in.SystemPrompt, in.Registry)

	reject := func(err error) Outcome {
		return Outcome{
			SessionID: s.ID(),
			Status:    StatusFailed,
			Failure:   &fault.Descriptor{Kind: fault.Validation, Message: err.Error()},
		}
	}

	if err := in.Policy.Validate(); err != nil {
		return reject(err)
	}

	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retrier := retry.New(in.Policy.Retry, retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		logger.WarnContext(ctx, "retrying backend call",
			"session", s.ID(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}))

	invoker := modeladapter.NewInvoker(completer, modeladapter.InvokerOpts{
		Retrier:   retrier,
		MaxTokens: in.Policy.MaxTokens,
		Logger:    logger,
	})

	a := New(invoker, Options{MaxTurns: in.Policy.MaxTurns, Logger: logger})

	out, err := a.Run(ctx, s, in.UserMessage)
	if err != nil {
		return reject(err)
	}
	return out
}
