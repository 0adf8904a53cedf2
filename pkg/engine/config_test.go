package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/germanamz/agentloop/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
providers:
  - name: default
    kind: anthropic
    api_key: sk-test
    model: claude-sonnet-4-20250514
    rate_limit:
      input_tpm: 30000
      rpm: 50
  - name: backup
    kind: openai
    model: gpt-4o

provider: backup

mcp_servers:
  - name: orders
    command: mcp-orders
    args: ["--port", "8080"]
  - name: catalog
    transport: http
    url: http://localhost:9000/mcp

retry:
  max_attempts: 4
  base_delay: 250ms
  max_delay: 5s
  jitter_fraction: 0

session:
  system_prompt: You are a support agent.
  max_turns: 8
  max_tokens: 1024
  max_concurrency: 2
  tool_timeout: 10s
  timeout: 2m
  tools: [check_order_status]

archive:
  path: .agentloop/sessions.db
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "default", cfg.Providers[0].Name)
	assert.Equal(t, "anthropic", cfg.Providers[0].Kind)
	assert.Equal(t, "sk-test", cfg.Providers[0].APIKey)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Providers[0].Model)
	assert.Equal(t, 30000, cfg.Providers[0].RateLimit.InputTPM)
	assert.Equal(t, 50, cfg.Providers[0].RateLimit.RPM)
	assert.Equal(t, "backup", cfg.Provider)
	assert.Equal(t, "backup", cfg.provider().Name)

	require.Len(t, cfg.MCPServers, 2)
	assert.Equal(t, "orders", cfg.MCPServers[0].Name)
	assert.Equal(t, TransportStdio, cfg.MCPServers[0].transport())
	assert.Equal(t, []string{"--port", "8080"}, cfg.MCPServers[0].Args)
	assert.Equal(t, TransportHTTP, cfg.MCPServers[1].transport())

	assert.Equal(t, "You are a support agent.", cfg.Session.SystemPrompt)
	assert.Equal(t, 8, cfg.Session.MaxTurns)
	assert.Equal(t, []string{"check_order_status"}, cfg.Session.Tools)
	assert.Equal(t, ".agentloop/sessions.db", cfg.Archive.Path)

	p, err := cfg.Retry.Policy()
	require.NoError(t, err)
	assert.Equal(t, retry.Policy{MaxAttempts: 4, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}, p)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_AGENTLOOP_API_KEY", "sk-from-env")
	t.Setenv("TEST_AGENTLOOP_MODEL", "gpt-4o")

	yaml := `
providers:
  - name: default
    kind: openai
    api_key: ${TEST_AGENTLOOP_API_KEY}
    model: $TEST_AGENTLOOP_MODEL
`
	cfg, err := ParseConfig([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
	assert.Equal(t, "gpt-4o", cfg.Providers[0].Model)
}

func TestLoadConfig_UnsetEnvVarExpandsToEmpty(t *testing.T) {
	yaml := `
providers:
  - name: default
    kind: openai
    api_key: ${TEST_AGENTLOOP_SURELY_UNSET_VAR}
`
	cfg, err := ParseConfig([]byte(yaml))
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers[0].APIKey)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("providers: [unterminated"))
	assert.Error(t, err)
}

func validConfig() Config {
	return Config{
		Providers: []ProviderConfig{{Name: "p1", Kind: "anthropic"}},
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "no providers",
			mutate: func(c *Config) { c.Providers = nil },
			errMsg: "at least one provider",
		},
		{
			name:   "provider name required",
			mutate: func(c *Config) { c.Providers[0].Name = "" },
			errMsg: "provider name is required",
		},
		{
			name:   "provider kind required",
			mutate: func(c *Config) { c.Providers[0].Kind = "" },
			errMsg: "kind is required",
		},
		{
			name: "duplicate provider",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, ProviderConfig{Name: "p1", Kind: "openai"})
			},
			errMsg: "duplicate provider",
		},
		{
			name:   "negative rate limit",
			mutate: func(c *Config) { c.Providers[0].RateLimit.RPM = -1 },
			errMsg: "rate limits must not be negative",
		},
		{
			name:   "unknown selected provider",
			mutate: func(c *Config) { c.Provider = "nonexistent" },
			errMsg: `unknown provider "nonexistent"`,
		},
		{
			name:   "mcp name required",
			mutate: func(c *Config) { c.MCPServers = []MCPConfig{{Command: "cmd"}} },
			errMsg: "mcp server name is required",
		},
		{
			name:   "mcp command required",
			mutate: func(c *Config) { c.MCPServers = []MCPConfig{{Name: "orders"}} },
			errMsg: "command is required",
		},
		{
			name:   "mcp url required",
			mutate: func(c *Config) { c.MCPServers = []MCPConfig{{Name: "orders", Transport: TransportSSE}} },
			errMsg: "url is required",
		},
		{
			name:   "mcp unknown transport",
			mutate: func(c *Config) { c.MCPServers = []MCPConfig{{Name: "orders", Transport: "carrier-pigeon"}} },
			errMsg: `unknown transport "carrier-pigeon"`,
		},
		{
			name: "duplicate mcp",
			mutate: func(c *Config) {
				c.MCPServers = []MCPConfig{{Name: "orders", Command: "a"}, {Name: "orders", Command: "b"}}
			},
			errMsg: "duplicate mcp server name",
		},
		{
			name:   "invalid retry delay",
			mutate: func(c *Config) { c.Retry.BaseDelay = "soon" },
			errMsg: "invalid retry.base_delay",
		},
		{
			name:   "retry base above max",
			mutate: func(c *Config) { c.Retry = RetryConfig{BaseDelay: "10s", MaxDelay: "1s"} },
			errMsg: "engine: config:",
		},
		{
			name:   "negative max turns",
			mutate: func(c *Config) { c.Session.MaxTurns = -1 },
			errMsg: "max turns",
		},
		{
			name:   "negative concurrency",
			mutate: func(c *Config) { c.Session.MaxConcurrency = -1 },
			errMsg: "max_concurrency",
		},
		{
			name:   "invalid tool timeout",
			mutate: func(c *Config) { c.Session.ToolTimeout = "forever" },
			errMsg: "invalid session.tool_timeout",
		},
		{
			name:   "negative session timeout",
			mutate: func(c *Config) { c.Session.Timeout = "-1s" },
			errMsg: "session.timeout must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRetryConfig_Defaults(t *testing.T) {
	p, err := RetryConfig{}.Policy()
	require.NoError(t, err)
	assert.Equal(t, retry.DefaultPolicy(), p)
}

func TestSessionConfig_Defaults(t *testing.T) {
	p, err := SessionConfig{}.policy(retry.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTurns, p.MaxTurns)
	assert.Equal(t, DefaultMaxTokens, p.MaxTokens)
	assert.Equal(t, retry.DefaultPolicy(), p.Retry)
}
