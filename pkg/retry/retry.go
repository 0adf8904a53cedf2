// Package retry runs an operation under a bounded exponential backoff policy.
//
// The package knows nothing about what the operation does. A classifier
// decides whether a failure is transient; transient failures are retried
// after a jittered delay until the policy's attempt budget runs out.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/germanamz/agentloop/pkg/fault"
)

// Policy bounds retries of a single operation.
type Policy struct {
	MaxAttempts    int           // Total attempts, including the first.
	BaseDelay      time.Duration // Delay after the first failed attempt.
	MaxDelay       time.Duration // Upper bound for the exponential delay.
	JitterFraction float64       // Delay is perturbed uniformly by ±JitterFraction·delay.
}

// DefaultPolicy returns the policy used when configuration does not set one.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}
}

// Validate reports the first invalid field of p.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry: base delay must be positive, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry: max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return fmt.Errorf("retry: jitter fraction must be within [0,1], got %g", p.JitterFraction)
	}
	return nil
}

// Delay returns the backoff before the attempt that follows the given failed
// attempt (1-based). r is a uniform sample in [0,1) used for jitter; 0.5
// yields no jitter.
func (p Policy) Delay(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)) //nolint:mnd // exponential backoff
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	d += (2*r - 1) * p.JitterFraction * d //nolint:mnd // map [0,1) to [-1,1)
	if d < 0 {
		d = 0
	}

	return time.Duration(d)
}

// Hinter is implemented by errors that carry a server-provided minimum wait,
// such as a Retry-After header. The hint never raises a delay above
// Policy.MaxDelay.
type Hinter interface {
	RetryDelay() time.Duration
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Classifier reports whether err is transient.
type Classifier func(err error) bool

// Retrier applies a Policy. It is safe for concurrent use once configured.
type Retrier struct {
	policy   Policy
	classify Classifier
	onRetry  func(attempt int, delay time.Duration, err error)

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// randFunc returns a random float64 in [0,1); used for jitter. Defaults to rand.Float64.
	randFunc func() float64
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithClassifier replaces the default classifier, fault.IsRetryable.
func WithClassifier(c Classifier) Option {
	return func(r *Retrier) { r.classify = c }
}

// WithOnRetry registers an observer called before each backoff sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New creates a Retrier for p. The policy is assumed valid; see Policy.Validate.
func New(p Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy:    p,
		classify:  fault.IsRetryable,
		sleepFunc: contextSleep,
		randFunc:  rand.Float64,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Policy returns the retrier's policy.
func (r *Retrier) Policy() Policy { return r.policy }

// SetSleepFunc overrides the sleep function (for testing).
func (r *Retrier) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// SetRandFunc overrides the random number generator (for testing).
func (r *Retrier) SetRandFunc(fn func() float64) { r.randFunc = fn }

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. op receives the 1-based attempt number. Context
// errors are returned as is and never retried.
func Do[T any](ctx context.Context, r *Retrier, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}

		if ctx.Err() != nil || isContextErr(err) || !r.classify(err) {
			return zero, err
		}

		if attempt >= r.policy.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := r.policy.Delay(attempt, r.randFunc())
		var h Hinter
		if errors.As(err, &h) {
			delay = max(delay, min(h.RetryDelay(), r.policy.MaxDelay))
		}

		if r.onRetry != nil {
			r.onRetry(attempt, delay, err)
		}

		if err := r.sleepFunc(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
