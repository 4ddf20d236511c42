package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/everbrook-ai/engram/core"
)

// Record is one memory record: a vector-embedded copy of a persisted message.
// Records are never mutated after creation, only upserted in place when the
// same message is re-processed.
type Record struct {
	// ID is derived deterministically from the conversation id and the
	// message sequence, so re-processing the same message is an upsert.
	ID string

	ConversationID string
	Role           core.Role
	Text           string
	CreatedAt      time.Time

	Embedding []float32
}

// NewRecord builds the record for a persisted message. The embedding is left
// unset; the Manager fills it before storage.
func NewRecord(msg core.Message) Record {
	return Record{
		ID:             RecordID(msg.ConversationID, msg.Seq),
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Text:           msg.Text,
		CreatedAt:      msg.CreatedAt,
	}
}

// RecordID derives the deterministic vector-store id for a message.
func RecordID(conversationID string, seq int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", conversationID, seq)))
	return "mem-" + hex.EncodeToString(sum[:16])
}

// Normalize trims surrounding whitespace. Text that is empty after
// normalization is skipped by Remember rather than embedded.
func Normalize(text string) string {
	return strings.TrimSpace(text)
}
