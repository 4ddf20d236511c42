// Package anthropic implements the engine contract on the Claude Messages
// API. Each Stream call opens one streaming request and surfaces its text
// deltas as chunks.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/everbrook-ai/engram/core"
	"github.com/everbrook-ai/engram/engine"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 2048
)

// Config configures the Claude engine.
type Config struct {
	// Model is the Claude model id.
	Model string

	// MaxTokens is the maximum response length.
	MaxTokens int64
}

// Engine is an engine.Engine backed by the Anthropic API.
type Engine struct {
	client *anthropic.Client
	config Config
}

// New creates a Claude-backed engine.
func New(client *anthropic.Client, cfg Config) *Engine {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Engine{client: client, config: cfg}
}

// Stream opens a streaming completion for the prompt.
func (e *Engine) Stream(ctx context.Context, prompt engine.Prompt) (engine.Stream, error) {
	messages := make([]anthropic.MessageParam, 0, len(prompt.Segments))
	for _, seg := range prompt.Segments {
		switch seg.Role {
		case core.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(seg.Text)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(seg.Text)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.config.Model),
		MaxTokens: e.config.MaxTokens,
		Messages:  messages,
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}

	inner := e.client.Messages.NewStreaming(ctx, params)
	// The SDK reports request-time failures through the stream's Err, not
	// from NewStreaming itself; the first Next call surfaces them.
	return &claudeStream{inner: inner}, nil
}

// claudeStream adapts the SDK event stream to the chunk contract, skipping
// every event that carries no text delta.
type claudeStream struct {
	inner *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cur   string
}

func (s *claudeStream) Next() bool {
	for s.inner.Next() {
		event := s.inner.Current()
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				s.cur = text.Text
				return true
			}
		}
	}
	return false
}

func (s *claudeStream) Current() string { return s.cur }

func (s *claudeStream) Err() error { return s.inner.Err() }

func (s *claudeStream) Close() error { return s.inner.Close() }
