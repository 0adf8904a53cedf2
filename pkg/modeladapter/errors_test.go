package modeladapter_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
)

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter(""))
	assert.Equal(t, 3*time.Second, modeladapter.ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), modeladapter.ParseRetryAfter("Mon, 02 Jan 2006 15:04:05 GMT"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, modeladapter.ParseRetryAfter(future), 50*time.Minute)
}

func TestStatusError_Retryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, (&modeladapter.StatusError{StatusCode: tt.code}).Retryable())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      fault.Kind
		retryable bool
	}{
		{name: "rate limit", err: &modeladapter.RateLimitError{Body: "busy"}, kind: fault.ModelInvocation, retryable: true},
		{name: "server error", err: fmt.Errorf("call: %w", &modeladapter.StatusError{StatusCode: 503}), kind: fault.ModelInvocation, retryable: true},
		{name: "bad request", err: &modeladapter.StatusError{StatusCode: 400}, kind: fault.ModelInvocation},
		{name: "network", err: fmt.Errorf("do request: %w", &net.OpError{Op: "dial", Err: errors.New("refused")}), kind: fault.ModelInvocation, retryable: true},
		{name: "unexpected eof", err: fmt.Errorf("decode: %w", io.ErrUnexpectedEOF), kind: fault.ModelInvocation, retryable: true},
		{name: "attempt deadline", err: fmt.Errorf("do request: %w", context.DeadlineExceeded), kind: fault.ModelInvocation, retryable: true},
		{name: "unknown", err: errors.New("mystery"), kind: fault.ModelInvocation},
		{name: "cancelled", err: context.Canceled, kind: fault.Cancelled},
		{name: "already classified", err: fault.New(fault.Structural, "bad"), kind: fault.Structural},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := modeladapter.Classify(tt.err)
			assert.Equal(t, tt.kind, fault.KindOf(err))
			assert.Equal(t, tt.retryable, fault.IsRetryable(err))
		})
	}

	assert.NoError(t, modeladapter.Classify(nil))
}

func TestStopReason_Valid(t *testing.T) {
	for _, s := range []modeladapter.StopReason{
		modeladapter.StopEndTurn, modeladapter.StopToolUse, modeladapter.StopMaxTokens, modeladapter.StopError,
	} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, modeladapter.StopReason("paused").Valid())
}
