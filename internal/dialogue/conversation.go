// Package dialogue keeps per-client conversation history and asks the chat
// model for replies.
package dialogue

import (
	"fmt"
	"sync"
	"time"
)

// Role is the author of one turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Conversations holds histories keyed by conversation id. Every history
// starts with the system prompt.
type Conversations struct {
	mu           sync.Mutex
	systemPrompt string
	maxTurns     int
	byID         map[string][]Message
	now          func() time.Time
}

// NewConversations creates an empty store. maxTurns bounds the non-system
// history kept per conversation; zero means unbounded.
func NewConversations(systemPrompt string, maxTurns int) *Conversations {
	return &Conversations{
		systemPrompt: systemPrompt,
		maxTurns:     maxTurns,
		byID:         make(map[string][]Message),
		now:          time.Now,
	}
}

// Append adds a user or assistant turn, creating the conversation if needed.
func (c *Conversations) Append(id string, role Role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("append %s turn: only user and assistant turns may be appended", role)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.ensure(id)
	msgs = append(msgs, Message{Role: role, Content: content, At: c.now()})
	if c.maxTurns > 0 && len(msgs)-1 > c.maxTurns {
		trimmed := make([]Message, 0, c.maxTurns+1)
		trimmed = append(trimmed, msgs[0])
		trimmed = append(trimmed, msgs[len(msgs)-c.maxTurns:]...)
		msgs = trimmed
	}
	c.byID[id] = msgs
	return nil
}

// Messages returns the full history including the system prompt.
func (c *Conversations) Messages(id string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.ensure(id)...)
}

// History returns the user and assistant turns only.
func (c *Conversations) History(id string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.byID[id]
	if !ok {
		return []Message{}
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Clear resets a conversation to just the system prompt.
func (c *Conversations) Clear(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[id] = []Message{c.systemMessage()}
}

// Drop forgets a conversation entirely.
func (c *Conversations) Drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
}

// Len reports how many conversations are held.
func (c *Conversations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

func (c *Conversations) ensure(id string) []Message {
	msgs, ok := c.byID[id]
	if !ok {
		msgs = []Message{c.systemMessage()}
		c.byID[id] = msgs
	}
	return msgs
}

func (c *Conversations) systemMessage() Message {
	return Message{Role: RoleSystem, Content: c.systemPrompt, At: c.now()}
}
