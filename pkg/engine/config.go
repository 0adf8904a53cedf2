package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/germanamz/agentloop/pkg/agent"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/retry"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
	"gopkg.in/yaml.v3"
)

// Session defaults applied when the configuration leaves a value unset.
const (
	DefaultMaxTurns  = 20
	DefaultMaxTokens = 4096
)

// Config is the top-level engine configuration.
type Config struct {
	Providers  []ProviderConfig `yaml:"providers"`
	Provider   string           `yaml:"provider"` // Provider used for sessions (default: first).
	MCPServers []MCPConfig      `yaml:"mcp_servers"`
	Retry      RetryConfig      `yaml:"retry"`
	Session    SessionConfig    `yaml:"session"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// RateLimitConfig controls proactive per-provider throttling.
type RateLimitConfig struct {
	InputTPM  int `yaml:"input_tpm"`  // Input tokens per minute (0 = no limit).
	OutputTPM int `yaml:"output_tpm"` // Output tokens per minute (0 = no limit).
	RPM       int `yaml:"rpm"`        // Requests per minute (0 = no limit).
}

// ProviderConfig describes a reasoning backend.
type ProviderConfig struct {
	Name      string            `yaml:"name"`
	Kind      string            `yaml:"kind"` // anthropic, openai, grok, gemini, relay, or a registered kind.
	BaseURL   string            `yaml:"base_url"`
	APIKey    string            `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model     string            `yaml:"model"`
	Headers   map[string]string `yaml:"headers"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
}

// MCP transports accepted in MCPConfig.Transport.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// MCPConfig describes an MCP server whose tools are imported into the
// shared registry.
type MCPConfig struct {
	Name      string   `yaml:"name"`
	Transport string   `yaml:"transport"` // stdio (default), sse, or http.
	Command   string   `yaml:"command"`   // For stdio.
	Args      []string `yaml:"args"`      // For stdio.
	URL       string   `yaml:"url"`       // For sse and http.
}

func (m MCPConfig) transport() string {
	if m.Transport == "" {
		return TransportStdio
	}
	return m.Transport
}

// RetryConfig configures backoff for backend calls. Zero values fall back
// to retry.DefaultPolicy.
type RetryConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	BaseDelay      string   `yaml:"base_delay"` // Duration string (e.g. "500ms").
	MaxDelay       string   `yaml:"max_delay"`
	JitterFraction *float64 `yaml:"jitter_fraction"` // Unset = default; 0 disables jitter.
}

// Policy resolves the configuration into a retry policy.
func (r RetryConfig) Policy() (retry.Policy, error) {
	p := retry.DefaultPolicy()

	if r.MaxAttempts != 0 {
		p.MaxAttempts = r.MaxAttempts
	}

	var err error
	if p.BaseDelay, err = parseDuration("retry.base_delay", r.BaseDelay, p.BaseDelay); err != nil {
		return retry.Policy{}, err
	}
	if p.MaxDelay, err = parseDuration("retry.max_delay", r.MaxDelay, p.MaxDelay); err != nil {
		return retry.Policy{}, err
	}
	if r.JitterFraction != nil {
		p.JitterFraction = *r.JitterFraction
	}

	if err := p.Validate(); err != nil {
		return retry.Policy{}, fmt.Errorf("engine: config: %w", err)
	}

	return p, nil
}

// SessionConfig holds the limits applied to every session.
type SessionConfig struct {
	SystemPrompt   string   `yaml:"system_prompt"`
	MaxTurns       int      `yaml:"max_turns"`       // Default DefaultMaxTurns.
	MaxTokens      int      `yaml:"max_tokens"`      // Default DefaultMaxTokens.
	MaxConcurrency int      `yaml:"max_concurrency"` // 0 = one worker per tool call.
	ToolTimeout    string   `yaml:"tool_timeout"`    // Default toolbox.DefaultTimeout.
	Timeout        string   `yaml:"timeout"`         // Whole-session deadline (empty = none).
	Tools          []string `yaml:"tools"`           // Allowlist of tool names (empty = all).
}

// ArchiveConfig selects where finished sessions are stored. An empty path
// keeps them in memory for the lifetime of the engine.
type ArchiveConfig struct {
	Path string `yaml:"path"` // SQLite database file, or ":memory:".
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing. This allows API keys and other secrets to be kept in
// environment variables (e.g. loaded from a .env file) rather than committed
// in the config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration after expanding environment
// variables.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("engine: config: at least one provider is required")
	}

	providerNames := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("engine: config: provider name is required")
		}
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider %q: kind is required", p.Name)
		}
		if _, dup := providerNames[p.Name]; dup {
			return fmt.Errorf("engine: config: duplicate provider name %q", p.Name)
		}
		if p.RateLimit.InputTPM < 0 || p.RateLimit.OutputTPM < 0 || p.RateLimit.RPM < 0 {
			return fmt.Errorf("engine: config: provider %q: rate limits must not be negative", p.Name)
		}
		providerNames[p.Name] = struct{}{}
	}

	if _, ok := providerNames[c.Provider]; c.Provider != "" && !ok {
		return fmt.Errorf("engine: config: unknown provider %q", c.Provider)
	}

	mcpNames := make(map[string]struct{}, len(c.MCPServers))
	for _, m := range c.MCPServers {
		if m.Name == "" {
			return fmt.Errorf("engine: config: mcp server name is required")
		}
		switch m.transport() {
		case TransportStdio:
			if m.Command == "" {
				return fmt.Errorf("engine: config: mcp server %q: command is required", m.Name)
			}
		case TransportSSE, TransportHTTP:
			if m.URL == "" {
				return fmt.Errorf("engine: config: mcp server %q: url is required", m.Name)
			}
		default:
			return fmt.Errorf("engine: config: mcp server %q: unknown transport %q", m.Name, m.Transport)
		}
		if _, dup := mcpNames[m.Name]; dup {
			return fmt.Errorf("engine: config: duplicate mcp server name %q", m.Name)
		}
		mcpNames[m.Name] = struct{}{}
	}

	if _, err := c.Retry.Policy(); err != nil {
		return err
	}

	if _, err := c.Session.policy(retry.DefaultPolicy()); err != nil {
		return err
	}
	if c.Session.MaxConcurrency < 0 {
		return fmt.Errorf("engine: config: session.max_concurrency must not be negative")
	}
	if _, err := parseDuration("session.tool_timeout", c.Session.ToolTimeout, toolbox.DefaultTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("session.timeout", c.Session.Timeout, 0); err != nil {
		return err
	}

	return nil
}

// policy resolves the session limits into an agent.Policy using rp for
// retries.
func (s SessionConfig) policy(rp retry.Policy) (agent.Policy, error) {
	p := agent.Policy{Retry: rp, MaxTurns: s.MaxTurns, MaxTokens: s.MaxTokens}
	if p.MaxTurns == 0 {
		p.MaxTurns = DefaultMaxTurns
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}

	if err := p.Validate(); err != nil {
		return agent.Policy{}, fmt.Errorf("engine: config: session: %w", err)
	}

	return p, nil
}

func (r RateLimitConfig) opts() modeladapter.RateLimitOpts {
	return modeladapter.RateLimitOpts{InputTPM: r.InputTPM, OutputTPM: r.OutputTPM, RPM: r.RPM}
}

// parseDuration parses a duration string, returning def when s is empty.
func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("engine: config: invalid %s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("engine: config: %s must not be negative", field)
	}

	return d, nil
}
