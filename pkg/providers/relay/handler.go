package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter"
)

// Handler serves a Completer over the relay protocol. A connection may carry
// any number of sequential requests.
type Handler struct {
	completer modeladapter.Completer
	logger    *slog.Logger

	// AcceptOptions are passed to websocket.Accept. Nil accepts same-origin
	// connections only.
	AcceptOptions *websocket.AcceptOptions
}

// NewHandler creates a Handler for c. A nil logger uses slog.Default().
func NewHandler(c modeladapter.Completer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{completer: c, logger: logger}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.AcceptOptions)
	if err != nil {
		h.logger.Error("relay: accept websocket", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()

	for {
		var in frame
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Warn("relay: read frame", "error", err)
			}
			return
		}

		if err := wsjson.Write(ctx, conn, h.serve(ctx, in)); err != nil {
			h.logger.Warn("relay: write frame", "error", err)
			return
		}
	}
}

func (h *Handler) serve(ctx context.Context, in frame) frame {
	if in.Type != frameRequest || in.Request == nil {
		return errorFrame("expected a request frame", false)
	}

	resp, err := h.completer.Complete(ctx, decodeRequest(in.Request))
	if err != nil {
		h.logger.Warn("relay: completer failed", "error", err)
		return errorFrame(err.Error(), fault.IsRetryable(modeladapter.Classify(err)))
	}

	return frame{Type: frameResponse, Response: &wireResponse{
		Message:      resp.Message,
		StopReason:   string(resp.StopReason),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}}
}

func errorFrame(msg string, retryable bool) frame {
	return frame{Type: frameError, Error: &wireErrorBody{Message: msg, Retryable: retryable}}
}
