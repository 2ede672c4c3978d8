// Package chat assembles conversational replies from a stream of event
// fragments and keeps the message history of a conversation.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matsen/ontoscope/internal/graph"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Thinking  string      `json:"thinking,omitempty"`
	GraphData *graph.Data `json:"graph_data,omitempty"`
	// Streaming is true while the reply is still being assembled.
	Streaming bool `json:"streaming,omitempty"`
	// Interrupted marks a reply whose stream was cancelled; its content is
	// whatever had arrived.
	Interrupted bool      `json:"interrupted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Conversation is the ordered message history of one chat, plus its backend
// identity. The identity is bound at most once and never changes afterwards.
type Conversation struct {
	mu             sync.Mutex
	id             *int64
	title          string
	titleRequested bool
	messages       []Message
}

// NewConversation creates a conversation. A nil id is a fresh conversation;
// a non-nil id restores an existing one, whose title is never re-requested.
func NewConversation(id *int64, title string, history []Message) *Conversation {
	c := &Conversation{title: title}
	if id != nil {
		v := *id
		c.id = &v
		c.titleRequested = true
	}
	c.messages = append(c.messages, history...)
	return c
}

// ID returns the bound conversation id.
func (c *Conversation) ID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == nil {
		return 0, false
	}
	return *c.id, true
}

// IDPtr returns a copy of the bound id, or nil.
func (c *Conversation) IDPtr() *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == nil {
		return nil
	}
	v := *c.id
	return &v
}

// Title returns the generated title, if any.
func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// SetTitle stores a generated title.
func (c *Conversation) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Append adds a message to the history.
func (c *Conversation) Append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

// bindLocked binds id if none is bound yet. requestTitle is true exactly once
// per conversation lifetime.
func (c *Conversation) bindLocked(id int64) (bound, requestTitle bool) {
	if c.id != nil {
		return false, false
	}
	c.id = &id
	if c.titleRequested {
		return true, false
	}
	c.titleRequested = true
	return true, true
}

// activeLocked returns the assistant message being streamed, creating it if
// the last message is not one.
func (c *Conversation) activeLocked() *Message {
	if n := len(c.messages); n > 0 {
		last := &c.messages[n-1]
		if last.Role == RoleAssistant && last.Streaming {
			return last
		}
	}
	m := NewMessage(RoleAssistant, "")
	m.Streaming = true
	c.messages = append(c.messages, m)
	return &c.messages[len(c.messages)-1]
}

// streamingLocked returns the assistant message being streamed, if any.
func (c *Conversation) streamingLocked() *Message {
	if n := len(c.messages); n > 0 {
		last := &c.messages[n-1]
		if last.Role == RoleAssistant && last.Streaming {
			return last
		}
	}
	return nil
}
