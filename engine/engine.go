// Package engine defines the completion-engine contract: given an ordered,
// role-tagged prompt, an engine produces a lazy, finite, non-restartable
// sequence of text chunks that may fail mid-stream.
package engine

import (
	"context"

	"github.com/everbrook-ai/engram/core"
)

// Segment is one role-tagged part of a prompt.
type Segment struct {
	Role core.Role
	Text string
}

// Prompt is the ordered input to a completion engine.
type Prompt struct {
	// System is the fixed persona/system instruction.
	System string

	// Segments are the role-tagged messages, in order.
	Segments []Segment
}

// Stream is a pull-based lazy sequence of text chunks.
//
// Next advances to the next chunk and reports whether one is available.
// After Next returns false, Err distinguishes normal completion (nil) from a
// mid-stream failure. A Stream cannot be restarted. Close releases engine
// resources and may be called at any point to abandon the stream.
type Stream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Engine produces completion streams. An error from Stream means the engine
// failed before producing any chunk.
type Engine interface {
	Stream(ctx context.Context, prompt Prompt) (Stream, error)
}
