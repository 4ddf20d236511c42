// Package core holds the shared domain types for the conversation pipeline.
package core

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the pipeline accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is an owner-scoped, ordered thread of messages.
type Conversation struct {
	// ID is opaque to callers. Allocated by the conversation store.
	ID string

	// OwnerID is caller-supplied and not authenticated.
	OwnerID string

	// Title is derived from the first user message and set exactly once.
	// Empty until the first non-empty user message arrives.
	Title string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationInfo is the listing view of a conversation.
type ConversationInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is a single user or assistant utterance within a conversation.
// Messages are append-only and totally ordered by (CreatedAt, Seq).
type Message struct {
	ConversationID string    `json:"-"`
	Seq            int64     `json:"-"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnRequest is one user turn submitted to the orchestrator.
type TurnRequest struct {
	// OwnerID scopes conversation listing and creation.
	OwnerID string `json:"owner_id"`

	// ConversationID is optional; when empty a new conversation is created.
	ConversationID string `json:"conversation_id,omitempty"`

	// Text is the user's message.
	Text string `json:"user_text"`
}
