// Package modeladapter is the boundary between the reasoning loop and a
// remote reasoning backend.
//
// It contains:
//   - [Completer], the backend contract, with [Request] and [Response]
//   - [Invoker], which sends a session's transcript through the retry layer and
//     rejects structurally malformed responses
//   - [ModelAdapter], an embeddable base with HTTP and WebSocket helpers, auth,
//     and custom headers for concrete providers
//   - [RateLimitedCompleter], proactive TPM/RPM throttling
//   - [github.com/germanamz/agentloop/pkg/modeladapter/usage], a thread-safe
//     token usage tracker
//
// This package contains no provider-specific code. Concrete adapters live in
// separate packages under pkg/providers.
package modeladapter
