// Package relay provides a Completer that talks to a self-hosted reasoning
// backend over a WebSocket, and a Handler that serves any Completer over the
// same protocol.
//
// Each call opens a connection, sends one JSON request frame, and reads one
// response or error frame. Messages use the agentloop JSON encoding.
package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
)

// DefaultPath is the socket path used when none is configured.
const DefaultPath = "/v1/relay"

var _ modeladapter.Completer = (*Adapter)(nil)

// RemoteError is an error reported by the relay server.
type RemoteError struct {
	Message   string
	Transient bool
}

func (e *RemoteError) Error() string { return "remote: " + e.Message }

// Retryable reports whether the server marked the failure as transient.
func (e *RemoteError) Retryable() bool { return e.Transient }

// Adapter implements modeladapter.Completer over a WebSocket relay.
type Adapter struct {
	modeladapter.ModelAdapter
	Path string
}

// New creates an Adapter for the relay at baseURL. http and https URLs are
// dialed as ws and wss.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{Path: DefaultPath}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model
	a.MaxTokens = 4096

	return a
}

// Complete sends req over a fresh connection and waits for the reply.
func (a *Adapter) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	conn, resp, err := a.DialWS(ctx, a.Path)
	if err != nil {
		return modeladapter.Response{}, fmt.Errorf("relay: %w", dialError(err, resp))
	}
	defer func() { _ = conn.CloseNow() }()

	out := frame{Type: frameRequest, Request: &wireRequest{
		Model:        a.Name,
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		Tools:        encodeTools(req.Tools),
		MaxTokens:    a.ResponseMaxTokens(req),
	}}
	if err := wsjson.Write(ctx, conn, out); err != nil {
		return modeladapter.Response{}, fmt.Errorf("relay: write request: %w", err)
	}

	var in frame
	if err := wsjson.Read(ctx, conn, &in); err != nil {
		return modeladapter.Response{}, fmt.Errorf("relay: read response: %w", err)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")

	switch in.Type {
	case frameResponse:
		if in.Response == nil {
			return modeladapter.Response{}, fmt.Errorf("relay: response frame without payload")
		}
	case frameError:
		if in.Error == nil {
			return modeladapter.Response{}, fmt.Errorf("relay: error frame without payload")
		}
		return modeladapter.Response{}, fmt.Errorf("relay: %w", &RemoteError{
			Message:   in.Error.Message,
			Transient: in.Error.Retryable,
		})
	default:
		return modeladapter.Response{}, fmt.Errorf("relay: unexpected frame type %q", in.Type)
	}

	tc := usage.TokenCount{
		InputTokens:  in.Response.InputTokens,
		OutputTokens: in.Response.OutputTokens,
	}
	a.Usage.Add(tc)

	return modeladapter.Response{
		Message:    in.Response.Message,
		StopReason: modeladapter.StopReason(in.Response.StopReason),
		Usage:      tc,
	}, nil
}

// dialError turns a rejected handshake into the same errors PostJSON
// returns, so throttling and server errors classify alike.
func dialError(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &modeladapter.RateLimitError{
			RetryAfter: modeladapter.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       err.Error(),
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return &modeladapter.StatusError{StatusCode: resp.StatusCode, Body: err.Error()}
	}

	return err
}
