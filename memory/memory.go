// Package memory maps conversation messages to vector-store records and
// retrieves the most relevant prior records by similarity.
//
// Architecture:
//   - Store: vector storage backend (chromem for embedded, qdrant for remote)
//   - Embedder: text-to-vector conversion (onnx locally, mock in tests)
//   - Manager: Remember on every persisted message, Recall per query
//
// Memory is an enhancement, not a prerequisite for conversation: callers are
// expected to log and continue when Remember or Recall fail.
package memory

import (
	"context"
	"errors"
)

// Sentinel errors for memory operations.
var (
	// ErrEncoding is returned when the embedder rejects the input.
	ErrEncoding = errors.New("failed to encode text")

	// ErrStoreWrite is returned when a vector-store upsert fails.
	ErrStoreWrite = errors.New("failed to write memory record")

	// ErrStoreQuery is returned when a vector-store query fails.
	ErrStoreQuery = errors.New("failed to query memory records")
)

// Embedder converts text to vector embeddings.
//
// The same embedder (same model, same version) must serve both writes and
// queries, or similarity scores are meaningless. Dimensions is the pinned
// output size a Store can validate against.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Store is the vector storage backend.
//
// Upsert is idempotent: writing a record twice with the same ID replaces it
// in place. Query is restricted to a single conversation; records written
// under one conversation are never visible from another.
type Store interface {
	// Upsert saves a record. The record must have its embedding set.
	Upsert(ctx context.Context, rec Record) error

	// Query returns up to limit records from the conversation, ordered by
	// similarity to the embedding, highest first. An empty conversation
	// yields an empty slice, not an error.
	Query(ctx context.Context, conversationID string, embedding []float32, limit int) ([]Result, error)

	// Close releases resources.
	Close() error
}

// Result is one retrieved record with its similarity score.
// Scores are cosine similarities in [0, 1] for normalized embeddings.
type Result struct {
	Record Record
	Score  float32
}
