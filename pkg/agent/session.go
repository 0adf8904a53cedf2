package agent

import (
	"sync"

	"github.com/germanamz/agentloop/pkg/chats/chat"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
	"github.com/google/uuid"
)

// Status is the externally visible lifecycle of a session.
type Status string

const (
	StatusActive           Status = "active"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusMaxTurnsExceeded Status = "max_turns_exceeded"
)

// Terminal reports whether no further work can happen in this status.
func (s Status) Terminal() bool { return s != StatusActive }

// State is the position of a session in the reasoning loop.
type State string

const (
	StateInit             State = "init"
	StateAwaitingBackend  State = "awaiting_backend"
	StateExecutingTools   State = "executing_tools"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateMaxTurnsExceeded State = "max_turns_exceeded"
)

// Status maps a loop state to the session status it implies.
func (s State) Status() Status {
	switch s {
	case StateCompleted:
		return StatusCompleted
	case StateFailed:
		return StatusFailed
	case StateMaxTurnsExceeded:
		return StatusMaxTurnsExceeded
	}
	return StatusActive
}

var _ modeladapter.Transcript = (*Session)(nil)

// Session is one interaction with the backend. It owns its conversation and
// shares the tool registry read-only with other sessions. Only the loop
// mutates a session; accessors are safe to call from other goroutines.
type Session struct {
	id           string
	systemPrompt string
	registry     *toolbox.ToolBox

	mu        sync.Mutex
	chat      *chat.Chat
	state     State
	turns     int
	running   bool
	finalText string
	failure   *fault.Descriptor

	usage usage.Tracker
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithID sets the session id. Sessions get a random UUID otherwise.
func WithID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// WithHistory seeds the conversation with prior messages, typically the
// transcript of an earlier session. The messages are copied.
func WithHistory(msgs ...message.Message) SessionOption {
	return func(s *Session) { s.chat = chat.New(msgs...) }
}

// NewSession creates an active session. A nil registry means no tools.
func NewSession(systemPrompt string, registry *toolbox.ToolBox, opts ...SessionOption) *Session {
	if registry == nil {
		registry = toolbox.New()
	}

	s := &Session{
		systemPrompt: systemPrompt,
		registry:     registry,
		chat:         chat.New(),
		state:        StateInit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}

	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// SystemPrompt returns the system prompt sent with every backend call.
func (s *Session) SystemPrompt() string { return s.systemPrompt }

// Registry returns the tools available to the session.
func (s *Session) Registry() *toolbox.ToolBox { return s.registry }

// Definitions returns the definitions of every registered tool.
func (s *Session) Definitions() []toolbox.Definition { return s.registry.Definitions() }

// Messages returns a copy of the conversation.
func (s *Session) Messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chat.Messages()
}

// Len returns the number of messages in the conversation.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chat.Len()
}

// State returns the current loop state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status { return s.State().Status() }

// TurnCount returns the number of backend round trips made so far.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.turns
}

// Outcome returns the session's result. It is only meaningful once the
// status is terminal.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.outcomeLocked()
}

func (s *Session) outcomeLocked() Outcome {
	o := Outcome{
		SessionID: s.id,
		Status:    s.state.Status(),
		FinalText: s.finalText,
		Turns:     s.turns,
		Usage:     s.usage.Total(),
	}
	if s.failure != nil {
		d := *s.failure
		o.Failure = &d
	}
	return o
}

// begin claims the session for one run.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status().Terminal() {
		return ErrSessionClosed
	}
	if s.running {
		return ErrSessionBusy
	}
	s.running = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Session) append(msgs ...message.Message) {
	s.mu.Lock()
	s.chat.Append(msgs...)
	s.mu.Unlock()
}

// Usage returns the tokens consumed by the session so far.
func (s *Session) Usage() usage.TokenCount { return s.usage.Total() }

func (s *Session) unanswered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chat.Unanswered()
}

// transition moves to next and returns the previous state. Terminal states
// are final; a transition out of one is ignored.
func (s *Session) transition(next State) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	if prev.Status().Terminal() {
		return prev, false
	}
	s.state = next
	return prev, true
}

// startTurn increments the turn counter unless the bound is reached.
func (s *Session) startTurn(maxTurns int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turns >= maxTurns {
		return false
	}
	s.turns++
	return true
}

// finish records the terminal result. It reports false when the session was
// already terminal.
func (s *Session) finish(state State, text string, failure *fault.Descriptor) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	if prev.Status().Terminal() {
		return prev, false
	}
	s.state = state
	s.finalText = text
	s.failure = failure
	return prev, true
}
