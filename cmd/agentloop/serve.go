package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/germanamz/agentloop/pkg/agent"
	"github.com/germanamz/agentloop/pkg/engine"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
	"github.com/germanamz/agentloop/pkg/providers/relay"
	"github.com/germanamz/agentloop/pkg/tools/mcpserver"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
)

const version = "0.1.0"

// sessionToolTimeout bounds a run_session call made over MCP.
const sessionToolTimeout = 10 * time.Minute

type runSessionInput struct {
	Prompt     string `json:"prompt" jsonschema:"the user message to answer"`
	ContinueID string `json:"continue_id,omitempty" jsonschema:"archived session to continue"`
}

type runSessionOutput struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Answer    string `json:"answer,omitempty"`
	Error     string `json:"error,omitempty"`
	Turns     int    `json:"turns"`

	Usage usage.TokenCount `json:"usage"`
}

// sessionTools exposes the engine itself as a tool so MCP clients can hand
// whole tasks to the reasoning loop.
func sessionTools(eng *engine.Engine) (*toolbox.ToolBox, error) {
	tb := toolbox.New(toolbox.WithTimeout(sessionToolTimeout))

	err := tb.Register(toolbox.Definition{
		Name:        "run_session",
		Description: "Answer a prompt with the configured model and tools, returning the final answer.",
		InputSchema: toolbox.MustSchemaFor[runSessionInput](),
	}, toolbox.Typed(func(ctx context.Context, in runSessionInput) (runSessionOutput, error) {
		var (
			out agent.Outcome
			err error
		)
		if in.ContinueID != "" {
			out, err = eng.Continue(ctx, in.ContinueID, in.Prompt)
		} else {
			out, err = eng.Run(ctx, in.Prompt)
		}
		if err != nil {
			return runSessionOutput{}, err
		}

		res := runSessionOutput{
			SessionID: out.SessionID,
			Status:    string(out.Status),
			Answer:    out.FinalText,
			Turns:     out.Turns,
			Usage:     out.Usage,
		}
		if out.Failure != nil {
			res.Error = fmt.Sprintf("%s: %s", out.Failure.Kind, out.Failure.Message)
		}
		return res, nil
	}))
	if err != nil {
		return nil, err
	}

	return tb, nil
}

// runMCP serves the engine's tools and run_session over MCP on stdio.
func runMCP(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	st, err := sessionTools(eng)
	if err != nil {
		return err
	}

	srv := mcpserver.New("agentloop", version)
	srv.Mount(eng.Tools())
	srv.Mount(st)

	slog.Info("serving mcp on stdio", "tools", eng.Tools().Len()+st.Len())

	return srv.Serve(ctx, os.Stdin, os.Stdout)
}

// runRelay serves the configured provider over the relay protocol so other
// agentloop instances can use it through a "relay" provider.
func runRelay(configPath, listen string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	mux := http.NewServeMux()
	mux.Handle(relay.DefaultPath, relay.NewHandler(eng.Completer(), slog.Default()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "addr", listen, "path", relay.DefaultPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

// runSessions prints the most recent archived sessions.
func runSessions(configPath string, limit int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	recs, err := eng.Archive().List(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tTURNS\tTOKENS\tCREATED\tSUMMARY")
	for _, r := range recs {
		summary := r.FinalText
		if r.Failure != nil {
			summary = fmt.Sprintf("%s: %s", r.Failure.Kind, r.Failure.Message)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", r.ID, r.Status, r.Turns, r.Usage.Total(), r.CreatedAt.Format(time.DateTime), truncate(summary, 60))
	}

	return w.Flush()
}
