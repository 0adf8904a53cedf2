// Package providers groups the reasoning backend adapters.
//
// Each sub-package embeds [github.com/germanamz/agentloop/pkg/modeladapter.ModelAdapter]
// and implements modeladapter.Completer for one wire format:
//   - [github.com/germanamz/agentloop/pkg/providers/anthropic]: Anthropic Messages API
//   - [github.com/germanamz/agentloop/pkg/providers/openai]: OpenAI Chat Completions API and compatible backends (Grok)
//   - [github.com/germanamz/agentloop/pkg/providers/gemini]: Google Gemini generateContent API
//   - [github.com/germanamz/agentloop/pkg/providers/relay]: agentloop relay protocol over WebSocket
//
// This package contains no code; it only documents the layout.
package providers
