package engine

import (
	"fmt"
	"maps"
	"sync"

	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/providers/anthropic"
	"github.com/germanamz/agentloop/pkg/providers/gemini"
	"github.com/germanamz/agentloop/pkg/providers/openai"
	"github.com/germanamz/agentloop/pkg/providers/relay"
)

// Default base URLs per provider kind.
const (
	anthropicBaseURL = "https://api.anthropic.com"
	openAIBaseURL    = "https://api.openai.com"
	grokBaseURL      = "https://api.x.ai"
	geminiBaseURL    = "https://generativelanguage.googleapis.com"
)

// ProviderFactory creates a Completer from a ProviderConfig.
type ProviderFactory func(cfg ProviderConfig) (modeladapter.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories["anthropic"] = newAnthropic
		factories["openai"] = newOpenAI
		factories["grok"] = newGrok
		factories["gemini"] = newGemini
		factories["relay"] = newRelay
	})
}

// RegisterProvider registers a custom provider factory under the given kind.
// It can be called before New to extend the engine with additional providers.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

// getFactory returns the factory for the given kind.
func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

func baseURL(cfg ProviderConfig, def string) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return def
}

// withHeaders merges configured headers over the adapter defaults.
func withHeaders(a *modeladapter.ModelAdapter, headers map[string]string) {
	if len(headers) == 0 {
		return
	}
	if a.Headers == nil {
		a.Headers = make(map[string]string, len(headers))
	}
	maps.Copy(a.Headers, headers)
}

func newAnthropic(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := anthropic.New(baseURL(cfg, anthropicBaseURL), cfg.APIKey, cfg.Model)
	withHeaders(&a.ModelAdapter, cfg.Headers)
	return a, nil
}

func newOpenAI(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := openai.New(baseURL(cfg, openAIBaseURL), cfg.APIKey, cfg.Model)
	withHeaders(&a.ModelAdapter, cfg.Headers)
	return a, nil
}

// newGrok uses the OpenAI-compatible chat completions API of xAI.
func newGrok(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := openai.New(baseURL(cfg, grokBaseURL), cfg.APIKey, cfg.Model)
	withHeaders(&a.ModelAdapter, cfg.Headers)
	return a, nil
}

func newGemini(cfg ProviderConfig) (modeladapter.Completer, error) {
	a := gemini.New(baseURL(cfg, geminiBaseURL), cfg.APIKey, cfg.Model)
	withHeaders(&a.ModelAdapter, cfg.Headers)
	return a, nil
}

func newRelay(cfg ProviderConfig) (modeladapter.Completer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for relay providers")
	}

	a := relay.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
	withHeaders(&a.ModelAdapter, cfg.Headers)
	return a, nil
}

// buildCompleter creates a Completer from a ProviderConfig using the registered
// factory for its Kind. If rate limiting is configured, the completer is wrapped
// with a RateLimitedCompleter.
func buildCompleter(cfg ProviderConfig) (modeladapter.Completer, error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	c, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	if opts := cfg.RateLimit.opts(); opts.Enabled() {
		c = modeladapter.NewRateLimitedCompleter(c, opts)
	}

	return c, nil
}
