package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/agentloop/pkg/agent"
	"github.com/germanamz/agentloop/pkg/archive"
	"github.com/germanamz/agentloop/pkg/chats/chat"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/retry"
	"github.com/germanamz/agentloop/pkg/tools/mcpclient"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
)

// Engine is the composition root that assembles all framework components from
// configuration and exposes them through a frontend-agnostic API.
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	events     *EventBus
	completer  modeladapter.Completer
	tools      *toolbox.ToolBox
	archive    archive.Repository
	agent      *agent.Agent
	mcpClients []*mcpclient.MCPClient
	policy     agent.Policy
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and every session it runs.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithArchive replaces the archive selected by the configuration. The
// engine takes ownership and closes it on Close.
func WithArchive(r archive.Repository) Option {
	return func(e *Engine) { e.archive = r }
}

// New creates an Engine from the given configuration. It validates the config,
// creates the provider adapter, connects MCP clients, imports their tools,
// and opens the session archive.
func New(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		events: NewEventBus(),
	}
	for _, o := range opts {
		o(e)
	}

	pc := cfg.provider()
	completer, err := buildCompleter(pc)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("engine: provider %q: %w", pc.Name, err)
	}
	e.completer = completer

	// Validate already checked every duration and limit.
	toolTimeout, _ := parseDuration("session.tool_timeout", cfg.Session.ToolTimeout, toolbox.DefaultTimeout)
	sessionTimeout, _ := parseDuration("session.timeout", cfg.Session.Timeout, 0)
	retryPolicy, _ := cfg.Retry.Policy()
	e.policy, _ = cfg.Session.policy(retryPolicy)

	e.tools = toolbox.New(toolbox.WithTimeout(toolTimeout))

	for _, mc := range cfg.MCPServers {
		client, err := connectMCP(ctx, mc)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("engine: mcp %q: %w", mc.Name, err)
		}
		e.mcpClients = append(e.mcpClients, client)

		if err := client.Import(ctx, e.tools); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("engine: mcp %q: %w", mc.Name, err)
		}
		e.logger.DebugContext(ctx, "imported mcp tools", "server", mc.Name, "tools", e.tools.Len())
	}

	if e.archive == nil {
		repo, err := openArchive(cfg.Archive)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.archive = repo
	}

	retrier := retry.New(e.policy.Retry, retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		e.logger.Warn("retrying backend call",
			"provider", pc.Name,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}))

	invoker := modeladapter.NewInvoker(completer, modeladapter.InvokerOpts{
		Retrier:   retrier,
		MaxTokens: e.policy.MaxTokens,
		Logger:    e.logger,
	})

	middleware := []agent.Middleware{agent.Logger(e.logger), agent.Recovery()}
	if sessionTimeout > 0 {
		middleware = append(middleware, agent.Timeout(sessionTimeout))
	}

	e.agent = agent.New(invoker, agent.Options{
		MaxTurns:       e.policy.MaxTurns,
		MaxConcurrency: cfg.Session.MaxConcurrency,
		Middleware:     middleware,
		EventNotifier:  e.notify,
		Logger:         e.logger,
	})

	return e, nil
}

// provider returns the configuration of the provider sessions run against.
func (c Config) provider() ProviderConfig {
	for _, p := range c.Providers {
		if p.Name == c.Provider {
			return p
		}
	}
	return c.Providers[0]
}

func connectMCP(ctx context.Context, mc MCPConfig) (*mcpclient.MCPClient, error) {
	switch mc.transport() {
	case TransportSSE:
		return mcpclient.NewSSE(ctx, mc.URL)
	case TransportHTTP:
		return mcpclient.NewStreamable(ctx, mc.URL)
	default:
		return mcpclient.New(ctx, mc.Command, mc.Args...)
	}
}

func openArchive(cfg ArchiveConfig) (archive.Repository, error) {
	if cfg.Path == "" {
		return archive.NewMemory(), nil
	}

	repo, err := archive.NewSQLite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return repo, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Archive returns the repository finished sessions are stored in.
func (e *Engine) Archive() archive.Repository { return e.archive }

// Completer returns the provider adapter sessions run against.
func (e *Engine) Completer() modeladapter.Completer { return e.completer }

// Tools returns the shared tool registry. The session allowlist is not
// applied.
func (e *Engine) Tools() *toolbox.ToolBox { return e.tools }

// Register adds a local tool to the shared registry. Tools should be
// registered before the first session runs.
func (e *Engine) Register(def toolbox.Definition, handler toolbox.Handler) error {
	return e.tools.Register(def, handler)
}

// Run starts a fresh session with text as the first user message, drives it
// to a terminal status, and archives it. The error is only set when the
// session could not be started or archived; backend and tool failures are
// reported in the Outcome.
func (e *Engine) Run(ctx context.Context, text string) (agent.Outcome, error) {
	return e.run(ctx, e.newSession(), text)
}

// Continue starts a new session seeded with the transcript of the archived
// session prevID and sends text as the next user message. Tool calls left
// unanswered by an interrupted session are dropped from the seeded history.
func (e *Engine) Continue(ctx context.Context, prevID, text string) (agent.Outcome, error) {
	prev, err := e.archive.Get(ctx, prevID)
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("engine: continue %q: %w", prevID, err)
	}

	history := chat.New(prev.Messages...).Settled()
	if dropped := len(prev.Messages) - len(history); dropped > 0 {
		e.logger.DebugContext(ctx, "dropped unanswered tool calls from history", "session", prevID, "messages", dropped)
	}

	return e.run(ctx, e.newSession(agent.WithHistory(history...)), text)
}

func (e *Engine) newSession(opts ...agent.SessionOption) *agent.Session {
	return agent.NewSession(e.cfg.Session.SystemPrompt, e.tools.Filter(e.cfg.Session.Tools), opts...)
}

func (e *Engine) run(ctx context.Context, s *agent.Session, text string) (agent.Outcome, error) {
	e.publish(EventSessionStart, s.ID(), nil)

	out, err := e.agent.Run(ctx, s, text)
	if err != nil {
		e.publish(EventError, s.ID(), err)
		return agent.Outcome{}, err
	}

	rec := archive.Record{
		ID:        out.SessionID,
		Status:    string(out.Status),
		Turns:     out.Turns,
		FinalText: out.FinalText,
		Failure:   out.Failure,
		Messages:  s.Messages(),
		Usage:     out.Usage,
	}
	// Archive even when ctx was cancelled.
	if err := e.archive.Save(context.WithoutCancel(ctx), rec); err != nil {
		e.publish(EventError, s.ID(), err)
		return out, fmt.Errorf("engine: archive session %q: %w", s.ID(), err)
	}

	e.publish(EventSessionEnd, s.ID(), out)

	return out, nil
}

// notify bridges agent events onto the bus.
func (e *Engine) notify(_ context.Context, kind, sessionID string, data any) {
	e.publish(EventKind(kind), sessionID, data)
}

func (e *Engine) publish(kind EventKind, sessionID string, data any) {
	e.events.Publish(Event{
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Close shuts down MCP clients and the archive.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.mcpClients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.archive != nil {
		if err := e.archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
