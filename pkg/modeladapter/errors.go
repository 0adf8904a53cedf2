package modeladapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/germanamz/agentloop/pkg/fault"
)

// RateLimitError is returned when the API responds with HTTP 429 (Too Many Requests).
// It carries an optional RetryAfter duration parsed from the Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// Retryable reports true; throttling is always transient.
func (e *RateLimitError) Retryable() bool { return true }

// RetryDelay returns the server-requested wait.
func (e *RateLimitError) RetryDelay() time.Duration { return e.RetryAfter }

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying: server errors and
// request timeouts are, other client errors are not.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusRequestTimeout
}

// ParseRetryAfter parses the Retry-After header value as either seconds (integer)
// or an HTTP-date (RFC 7231). Returns zero if unparseable or if the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
		return 0
	}
	return 0
}

// Classify maps a completer error onto the fault taxonomy. Rate limits,
// server errors, timeouts, and network failures become retryable
// ModelInvocation errors; anything else is a fatal ModelInvocation error.
// Context cancellation becomes Cancelled.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.Cancelled, err)
	}

	// A per-attempt deadline is transient, but must not be mistaken for the
	// caller's own context expiring, so the chain is cut here.
	if errors.Is(err, context.DeadlineExceeded) {
		return &fault.Error{
			Kind:      fault.ModelInvocation,
			Msg:       "backend call timed out: " + err.Error(),
			Retryable: true,
		}
	}

	if transient(err) {
		return fault.Transient(fault.ModelInvocation, err)
	}

	return fault.Wrap(fault.ModelInvocation, err)
}

func transient(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var r fault.Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var ne net.Error
	return errors.As(err, &ne)
}
