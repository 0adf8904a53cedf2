// Package fault defines the error taxonomy shared by the tool registry, the
// backend invoker, and the reasoning loop.
//
// Tool-level failures are turned into a [Descriptor] and carried as data
// inside tool results. Backend and structural failures travel as [*Error]
// values and end a session.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	Validation       Kind = "validation"
	UnknownTool      Kind = "unknown_tool"
	DuplicateTool    Kind = "duplicate_tool"
	ToolExecution    Kind = "tool_execution"
	ModelInvocation  Kind = "model_invocation"
	Structural       Kind = "structural"
	MaxTurnsExceeded Kind = "max_turns_exceeded"
	Cancelled        Kind = "cancelled"
)

// String returns the underlying string value of the kind.
func (k Kind) String() string { return string(k) }

// Fatal reports whether a failure of this kind ends a session.
func (k Kind) Fatal() bool {
	switch k {
	case ModelInvocation, Structural, Cancelled:
		return true
	}
	return false
}

// Descriptor is the serializable description of a failure.
type Descriptor struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Error is an error carrying a Kind and a retryable flag. The wrapped cause,
// if any, is reachable through errors.Unwrap.
type Error struct {
	Kind      Kind
	Msg       string
	Retryable bool
	Err       error
}

// New creates an Error with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around err. The message is taken
// from err.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Msg: err.Error(), Err: err}
}

// Transient creates a retryable Error of the given kind around err.
func Transient(kind Kind, err error) *Error {
	return &Error{Kind: kind, Msg: err.Error(), Retryable: true, Err: err}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Descriptor returns the serializable form of e.
func (e *Error) Descriptor() Descriptor {
	return Descriptor{Kind: e.Kind, Message: e.Msg, Retryable: e.Retryable}
}

// Describe maps any error to a Descriptor. context.Canceled becomes
// Cancelled; every other error without a fault.Error in its chain, including
// context.DeadlineExceeded from a per-call timeout, falls back to the given
// kind.
func Describe(err error, fallback Kind) Descriptor {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Descriptor()
	}

	if errors.Is(err, context.Canceled) {
		return Descriptor{Kind: Cancelled, Message: err.Error()}
	}

	return Descriptor{Kind: fallback, Message: err.Error()}
}

// KindOf returns the Kind of the first fault.Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries a fault.Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable is implemented by errors that know whether retrying them may
// succeed.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is marked as transient. Context errors are
// never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	return false
}
