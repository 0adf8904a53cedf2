package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/agentloop/pkg/fault"
)

// Runner drives a session with one user input.
type Runner interface {
	Run(ctx context.Context, s *Session, input string) (Outcome, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, s *Session, input string) (Outcome, error)

// Run calls the underlying function.
func (f RunnerFunc) Run(ctx context.Context, s *Session, input string) (Outcome, error) {
	return f(ctx, s, input)
}

// Middleware wraps a Runner, returning a new Runner with added behaviour.
type Middleware func(next Runner) Runner

// --- Timeout middleware ---

// Timeout returns a Middleware that bounds the whole session with a deadline.
// A session that runs past it fails as cancelled.
func Timeout(d time.Duration) Middleware {
	return func(next Runner) Runner {
		return RunnerFunc(func(ctx context.Context, s *Session, input string) (Outcome, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			return next.Run(ctx, s, input)
		})
	}
}

// --- Recovery middleware ---

// Recovery returns a Middleware that catches panics and fails the session
// with a structural error.
func Recovery() Middleware {
	return func(next Runner) Runner {
		return RunnerFunc(func(ctx context.Context, s *Session, input string) (out Outcome, err error) {
			defer func() {
				if r := recover(); r != nil {
					s.finish(StateFailed, "", &fault.Descriptor{
						Kind:    fault.Structural,
						Message: fmt.Sprintf("session panicked: %v", r),
					})
					out, err = s.Outcome(), nil
				}
			}()

			return next.Run(ctx, s, input)
		})
	}
}

// --- Logger middleware ---

// Logger returns a Middleware that logs session start, duration, and result.
func Logger(log *slog.Logger) Middleware {
	return func(next Runner) Runner {
		return RunnerFunc(func(ctx context.Context, s *Session, input string) (Outcome, error) {
			log.InfoContext(ctx, "session started", "session", s.ID())

			start := time.Now()

			out, err := next.Run(ctx, s, input)

			duration := time.Since(start)

			switch {
			case err != nil:
				log.ErrorContext(ctx, "session rejected",
					"session", s.ID(),
					"error", err,
				)
			case out.Failure != nil:
				log.ErrorContext(ctx, "session finished with error",
					"session", s.ID(),
					"status", out.Status,
					"turns", out.Turns,
					"duration", duration,
					"kind", out.Failure.Kind,
					"error", out.Failure.Message,
				)
			default:
				log.InfoContext(ctx, "session finished",
					"session", s.ID(),
					"status", out.Status,
					"turns", out.Turns,
					"duration", duration,
				)
			}

			return out, err
		})
	}
}
