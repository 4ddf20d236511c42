package engine

import "context"

// Scripted is an Engine that replays fixed chunks. Used by tests and the
// examples to exercise the pipeline without a completion API.
type Scripted struct {
	// Chunks are emitted in order.
	Chunks []string

	// FailAfter, when >= 0, injects StreamErr after that many chunks.
	// Set to 0 with a non-nil StartErr-free stream to fail before the
	// first chunk is produced.
	FailAfter int

	// StreamErr is the mid-stream error injected by FailAfter.
	StreamErr error

	// StartErr, when set, is returned by Stream itself.
	StartErr error

	// LastPrompt records the prompt of the most recent Stream call.
	LastPrompt Prompt
}

// Stream implements Engine.
func (s *Scripted) Stream(ctx context.Context, prompt Prompt) (Stream, error) {
	s.LastPrompt = prompt
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	failAfter := s.FailAfter
	if s.StreamErr == nil {
		failAfter = -1
	}
	return &scriptedStream{
		ctx:       ctx,
		chunks:    s.Chunks,
		failAfter: failAfter,
		failErr:   s.StreamErr,
	}, nil
}

type scriptedStream struct {
	ctx       context.Context
	chunks    []string
	pos       int
	cur       string
	err       error
	failAfter int
	failErr   error
	closed    bool
}

func (s *scriptedStream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.failAfter >= 0 && s.pos >= s.failAfter {
		s.err = s.failErr
		return false
	}
	if s.pos >= len(s.chunks) {
		return false
	}
	s.cur = s.chunks[s.pos]
	s.pos++
	return true
}

func (s *scriptedStream) Current() string { return s.cur }

func (s *scriptedStream) Err() error { return s.err }

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}
