// Package chat provides an append-only conversation container.
package chat

import (
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
)

// Chat is an append-only conversation. Messages are never removed or
// reordered once appended. The zero value is ready to use.
// Chat is not safe for concurrent use; callers must synchronize externally.
type Chat struct {
	messages []message.Message
}

// New creates a Chat pre-populated with the given messages.
func New(msgs ...message.Message) *Chat {
	return &Chat{messages: append([]message.Message(nil), msgs...)}
}

// Append adds one or more messages to the end of the conversation.
func (c *Chat) Append(msgs ...message.Message) {
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages in the conversation.
func (c *Chat) Len() int {
	return len(c.messages)
}

// At returns the message at the given index.
// It panics if the index is out of range.
func (c *Chat) At(index int) message.Message {
	return c.messages[index]
}

// Last returns the most recent message and true, or a zero Message and false
// if the conversation is empty.
func (c *Chat) Last() (message.Message, bool) {
	if len(c.messages) == 0 {
		return message.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a copy of all messages in the conversation.
func (c *Chat) Messages() []message.Message {
	cp := make([]message.Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// Each iterates over messages, calling fn for each one. If fn returns false,
// iteration stops early.
func (c *Chat) Each(fn func(int, message.Message) bool) {
	for i, m := range c.messages {
		if !fn(i, m) {
			return
		}
	}
}

// CallIDs returns the set of every tool call id requested so far.
func (c *Chat) CallIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, m := range c.messages {
		if m.Role != role.Assistant {
			continue
		}
		for _, tc := range m.ToolCalls() {
			ids[tc.ID] = struct{}{}
		}
	}
	return ids
}

// Unanswered returns the ids of tool calls that have not been answered by
// exactly one tool result in a later tool message, in request order. An id
// answered more than once is also reported. An empty result means the
// conversation is ready for the next backend call.
func (c *Chat) Unanswered() []string {
	var order []string
	answers := make(map[string]int)
	pending := make(map[string]bool)

	for _, m := range c.messages {
		switch m.Role {
		case role.Assistant:
			for _, tc := range m.ToolCalls() {
				if _, seen := answers[tc.ID]; !seen {
					order = append(order, tc.ID)
				}
				answers[tc.ID] = 0
				pending[tc.ID] = true
			}
		case role.Tool:
			for _, tr := range m.ToolResults() {
				if pending[tr.ToolCallID] {
					answers[tr.ToolCallID]++
				}
			}
		}
	}

	var out []string
	for _, id := range order {
		if answers[id] != 1 {
			out = append(out, id)
		}
	}
	return out
}

// Settled returns a copy of the longest prefix of the conversation in which
// every tool call has been answered exactly once. A conversation interrupted
// while tools were running loses its trailing unanswered calls.
func (c *Chat) Settled() []message.Message {
	for n := len(c.messages); n > 0; n-- {
		prefix := &Chat{messages: c.messages[:n]}
		if len(prefix.Unanswered()) == 0 {
			return prefix.Messages()
		}
	}
	return nil
}
