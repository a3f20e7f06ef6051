// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FailurePrefix marks assistant messages that carry a classified failure.
const FailurePrefix = "❌ "

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single chat message. Messages are values: once built by one
// of the constructors below they are never modified.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Failed is set on assistant messages produced by the failure classifier.
	Failed bool `json:"failed,omitempty"`

	// Incomplete is set when a stream ended without the completion sentinel.
	Incomplete bool `json:"incomplete,omitempty"`
}

// NewUserMessage creates a user message carrying the given attachments.
func NewUserMessage(content string, attachments []Attachment) Message {
	var atts []Attachment
	if len(attachments) > 0 {
		atts = make([]Attachment, len(attachments))
		copy(atts, attachments)
	}
	return Message{
		ID:          NewMessageID(),
		Role:        RoleUser,
		Content:     content,
		Timestamp:   time.Now(),
		Attachments: atts,
	}
}

// NewAssistantMessage creates an assistant message with the given content.
func NewAssistantMessage(content string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewIncompleteMessage creates an assistant message for a stream that closed
// before the completion sentinel arrived.
func NewIncompleteMessage(content string) Message {
	msg := NewAssistantMessage(content)
	msg.Incomplete = true
	return msg
}

// NewFailureMessage creates an assistant message describing a failure.
func NewFailureMessage(text string) Message {
	msg := NewAssistantMessage(FailurePrefix + text)
	msg.Failed = true
	return msg
}

// NewMessageID returns a fresh time-ordered message identifier.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Only fails when the random source fails.
		return fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}
	return id.String()
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsUser reports whether the message was sent by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant reports whether the message came from the model.
func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// HasAttachments reports whether the message carries attachments.
func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Preview returns the first maxLen runes of the content on a single line.
func (m Message) Preview(maxLen int) string {
	line := strings.Join(strings.Fields(m.Content), " ")
	runes := []rune(line)
	if len(runes) <= maxLen {
		return line
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
