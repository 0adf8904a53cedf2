// Package agentctx provides shared context key helpers for propagating
// session identity across package boundaries. It is intentionally
// zero-dependency so tool handlers, pkg/agent, and pkg/engine can all import
// it without creating cycles.
package agentctx

import "context"

type sessionIDCtxKey struct{}

// WithSessionID returns a new context carrying the given session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDCtxKey{}, id)
}

// SessionIDFromContext extracts the session id from the context.
// Returns "" if no session id is present.
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDCtxKey{}).(string)
	return v
}
