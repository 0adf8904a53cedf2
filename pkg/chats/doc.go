// Package chats provides a backend-agnostic data model for conversations
// driven by the reasoning loop.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/agentloop/pkg/chats/role]: conversation roles (user, assistant, tool)
//   - [github.com/germanamz/agentloop/pkg/chats/content]: content parts (text, tool call, tool result)
//   - [github.com/germanamz/agentloop/pkg/chats/message]: messages composed of a role and content parts
//   - [github.com/germanamz/agentloop/pkg/chats/chat]: append-only conversation container
//
// No backend or API code is included; chats is a foundation layer
// that adapters can build on.
package chats
