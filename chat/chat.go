// Package chat drives one conversation turn end to end: persist the user
// message, recall relevant memory, assemble the augmented prompt, relay the
// completion stream to the caller, and persist the finished reply.
package chat

import (
	"context"
	"errors"

	"github.com/everbrook-ai/engram/core"
	"github.com/everbrook-ai/engram/memory"
)

var (
	// ErrEmptyInput is returned for a turn with no text after trimming.
	ErrEmptyInput = errors.New("empty input")

	// ErrEngine is returned when the completion engine fails before any
	// chunk was produced. Once a chunk has been delivered the turn stands
	// and engine failures are only logged.
	ErrEngine = errors.New("completion engine failed")
)

// State is a turn's position in the orchestration state machine.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateUserPersisted    State = "USER_PERSISTED"
	StateContextRetrieved State = "CONTEXT_RETRIEVED"
	StatePromptAssembled  State = "PROMPT_ASSEMBLED"
	StateStreaming        State = "STREAMING"
	StateCompleted        State = "COMPLETED"
	StateFailed           State = "FAILED"
)

// ConversationStore is the slice of the conversation store the orchestrator
// needs. *convstore.Store satisfies it.
type ConversationStore interface {
	Create(ctx context.Context, ownerID string) (core.Conversation, error)
	Append(ctx context.Context, conversationID string, role core.Role, text string) (core.Message, error)
}

// Memory is the slice of the memory manager the orchestrator needs.
// *memory.Manager satisfies it.
type Memory interface {
	Remember(ctx context.Context, msg core.Message) (string, error)
	Recall(ctx context.Context, conversationID, query string) ([]memory.Result, error)
}

// Sink receives chunks in arrival order. An error from the sink means the
// caller is gone; the orchestrator stops relaying but still persists what
// was accumulated so far.
type Sink func(chunk string) error

// Turn is the outcome of one processed turn.
type Turn struct {
	// ConversationID identifies the (possibly newly created) conversation.
	ConversationID string

	// UserMessage is the persisted user message.
	UserMessage core.Message

	// Context holds the recalled memory used in the prompt.
	Context []memory.Result

	// Reply is the accumulated assistant text, possibly partial when
	// Interrupted is set.
	Reply string

	// Interrupted is set when the caller disconnected or the engine
	// failed after the first chunk.
	Interrupted bool

	// State is the terminal state of the turn.
	State State
}
