// Package message defines the canonical message shape every platform
// adapter normalizes into and every consumer understands.
package message

import (
	"fmt"
	"time"
)

// Conversation types. A one-to-one conversation is addressed by the peer's
// platform id, a group conversation by the platform-issued group handle.
const (
	ConversationUser  = "user"
	ConversationGroup = "group"
)

// Content types commonly produced by adapters. Data carries whatever the
// platform handed over, so unknown types still round-trip.
const (
	ContentText  = "text"
	ContentImage = "image"
	ContentCard  = "card"
)

type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

type Conversation struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type Content struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Message is the platform-agnostic normalized message record. MessageID is
// opaque and unique only within one platform's event stream; index messages
// by the (Platform, MessageID) pair, never by MessageID alone.
type Message struct {
	Platform     string       `json:"platform"`
	MessageID    string       `json:"message_id"`
	Sender       Sender       `json:"sender"`
	Conversation Conversation `json:"conversation"`
	Content      Content      `json:"content"`
	// Timestamp is milliseconds since epoch, best effort: some platforms
	// report coarser precision or fall back to receipt time.
	Timestamp int64 `json:"timestamp"`
}

// Validate checks the invariants adapters must uphold: a non-empty sender id
// and the asymmetric conversation-id rule (user conversation id equals the
// sender's platform id so replies can address it directly).
func (m Message) Validate() error {
	if m.Platform == "" {
		return fmt.Errorf("message: platform is empty")
	}
	if m.Sender.ID == "" {
		return fmt.Errorf("message: sender id is empty")
	}
	if m.Conversation.ID == "" {
		return fmt.Errorf("message: conversation id is empty")
	}
	switch m.Conversation.Type {
	case ConversationUser:
		if m.Conversation.ID != m.Sender.ID {
			return fmt.Errorf("message: user conversation id %q does not match sender id %q",
				m.Conversation.ID, m.Sender.ID)
		}
	case ConversationGroup:
	default:
		return fmt.Errorf("message: unknown conversation type %q", m.Conversation.Type)
	}
	return nil
}

// Now returns the current time in the canonical millisecond resolution,
// used by adapters falling back to receipt time.
func Now() int64 {
	return time.Now().UnixMilli()
}
