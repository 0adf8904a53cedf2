// Package engine is the composition root that assembles the agentloop
// components from configuration and exposes them through a frontend-agnostic
// API. Frontends (CLI, MCP server, relay) run sessions through Engine,
// observe activity through an EventBus, and never wire lower-level packages
// themselves.
package engine
