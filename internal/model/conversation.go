// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDuplicateMessage is returned when a message ID is already present.
var ErrDuplicateMessage = errors.New("duplicate message id")

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is an ordered, append-only list of messages. It is owned by
// the outer surface (CLI session, HTTP client); the dispatch pipeline never
// reads or writes it. Safe for concurrent use.
type Conversation struct {
	mu        sync.RWMutex
	title     string
	createdAt time.Time
	updatedAt time.Time
	messages  []Message
	ids       map[string]struct{}
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		createdAt: now,
		updatedAt: now,
		ids:       make(map[string]struct{}),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ids[msg.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
	}
	c.ids[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	c.updatedAt = time.Now()

	if c.title == "" && msg.Role == RoleUser {
		c.title = msg.Preview(50)
	}
	return nil
}

// Messages returns a copy of the messages in order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// IsEmpty returns true if the conversation has no messages.
func (c *Conversation) IsEmpty() bool {
	return c.Len() == 0
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// LastAssistant returns the most recent assistant message.
func (c *Conversation) LastAssistant() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleAssistant {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// Get returns the message with the given ID.
func (c *Conversation) Get(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, msg := range c.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return Message{}, false
}

// =============================================================================
// METADATA
// =============================================================================

// Title returns the conversation title or a default.
func (c *Conversation) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.title != "" {
		return c.title
	}
	return "New Conversation"
}

// UpdatedAt returns the time of the last append.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// FailureCount returns how many assistant messages carry a failure.
func (c *Conversation) FailureCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, msg := range c.messages {
		if msg.Failed {
			n++
		}
	}
	return n
}
