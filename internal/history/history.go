// Package history holds the session-scoped conversation the reader replays
// to the server on every turn.
//
// The store only grows by whole turns: a user message and the assistant's
// answer are appended together or not at all, so the sequence sent on turn N
// is exactly what turn N-1 left behind.
package history

import (
	"slices"
	"sync"
)

// Role identifies who spoke a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FunctionCall is the structured action an assistant message carried, kept
// so the model sees what it already did to the spread.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of the conversation, in the JSON shape the server
// expects.
type Message struct {
	Role         Role          `json:"role"`
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// Option configures a [Store].
type Option func(*Store)

// WithPreamble seeds the store with a system message that survives Reset.
func WithPreamble(content string) Option {
	return func(s *Store) {
		s.preamble = &Message{Role: RoleSystem, Content: content}
	}
}

// Store is the in-memory conversation of one session. It is safe for
// concurrent use.
type Store struct {
	preamble *Message

	mu       sync.Mutex
	messages []Message
}

// New returns a store holding only the optional preamble.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, o := range opts {
		o(s)
	}
	s.Reset()
	return s
}

// AppendTurn atomically appends the user message followed by the assistant
// message. Either text may be empty; both entries are appended regardless so
// turns stay paired. call may be nil.
func (s *Store) AppendTurn(user, assistant string, call *FunctionCall) {
	a := Message{Role: RoleAssistant, Content: assistant}
	if call != nil {
		c := *call
		a.FunctionCall = &c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: RoleUser, Content: user}, a)
}

// Messages returns a copy of the conversation in insertion order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.messages)
	for i := range out {
		if fc := out[i].FunctionCall; fc != nil {
			c := *fc
			out[i].FunctionCall = &c
		}
	}
	return out
}

// Len returns the number of messages, preamble included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Turns returns the number of completed user/assistant pairs.
func (s *Store) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.messages)
	if s.preamble != nil {
		n--
	}
	return n / 2
}

// Reset drops every turn, keeping the preamble.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
	if s.preamble != nil {
		s.messages = append(s.messages, *s.preamble)
	}
}
