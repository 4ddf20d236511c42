package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/core"
	"github.com/everbrook-ai/engram/engine"
	"github.com/everbrook-ai/engram/memory"
)

// Orchestrator drives the per-turn state machine. It holds no per-turn
// mutable state, so turns for the same or different conversations may run
// concurrently; ordering between concurrent turns of one conversation is
// last-write-wins unless the caller serializes them.
type Orchestrator struct {
	conversations ConversationStore
	memory        Memory
	engine        engine.Engine
	persona       string
	logger        *zap.Logger
	worker        *persistWorker
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithPersona overrides the default system instruction.
func WithPersona(persona string) Option {
	return func(o *Orchestrator) {
		o.persona = persona
	}
}

// WithQueueSize sets the memory persistence queue size.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		o.worker.Close()
		o.worker = newPersistWorker(o.memory, o.logger, n)
	}
}

// New creates an Orchestrator. A nil logger is replaced with a no-op logger.
func New(conversations ConversationStore, mem Memory, eng engine.Engine, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		conversations: conversations,
		memory:        mem,
		engine:        eng,
		persona:       DefaultPersona,
		logger:        logger,
	}
	o.worker = newPersistWorker(mem, logger, 0)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close drains pending memory writes. Call once, at shutdown.
func (o *Orchestrator) Close() {
	o.worker.Close()
}

// Respond processes one user turn, forwarding each chunk to sink as it
// arrives. Memory failures degrade the turn (missing context, unlogged
// recall); conversation-store failures on the user message and engine
// failures before the first chunk fail the turn.
func (o *Orchestrator) Respond(ctx context.Context, req core.TurnRequest, sink Sink) (*Turn, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	turn := &Turn{State: StateReceived}
	log := o.logger.With(zap.String("owner_id", req.OwnerID))

	// RECEIVED -> USER_PERSISTED
	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := o.conversations.Create(ctx, req.OwnerID)
		if err != nil {
			turn.State = StateFailed
			return turn, fmt.Errorf("create conversation: %w", err)
		}
		conversationID = conv.ID
	}
	turn.ConversationID = conversationID
	log = log.With(zap.String("conversation_id", conversationID))

	userMsg, err := o.conversations.Append(ctx, conversationID, core.RoleUser, text)
	if err != nil {
		turn.State = StateFailed
		return turn, fmt.Errorf("persist user message: %w", err)
	}
	turn.UserMessage = userMsg
	o.worker.Enqueue(userMsg)
	turn.State = StateUserPersisted

	// USER_PERSISTED -> CONTEXT_RETRIEVED. Recall failure is not a turn
	// failure; the prompt just carries no context.
	recalled, err := o.memory.Recall(ctx, conversationID, text)
	if err != nil {
		log.Warn("memory recall failed, continuing without context", zap.Error(err))
		recalled = nil
	}
	// The turn's own user message may already be indexed; recalling it
	// back into its own prompt adds nothing.
	selfID := memory.RecordID(conversationID, userMsg.Seq)
	kept := recalled[:0]
	for _, r := range recalled {
		if r.Record.ID != selfID {
			kept = append(kept, r)
		}
	}
	turn.Context = kept
	turn.State = StateContextRetrieved

	// CONTEXT_RETRIEVED -> PROMPT_ASSEMBLED
	prompt := assemblePrompt(o.persona, turn.Context, text)
	turn.State = StatePromptAssembled

	// PROMPT_ASSEMBLED -> STREAMING
	stream, err := o.engine.Stream(ctx, prompt)
	if err != nil {
		turn.State = StateFailed
		return turn, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	defer stream.Close()
	turn.State = StateStreaming

	var reply strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		reply.WriteString(chunk)
		if err := sink(chunk); err != nil {
			// Caller disconnected. Keep what was accumulated and let
			// the deferred Close abandon the stream.
			log.Info("caller disconnected mid-stream", zap.Error(err))
			turn.Interrupted = true
			break
		}
	}

	if streamErr := stream.Err(); streamErr != nil && !turn.Interrupted {
		if reply.Len() == 0 {
			// Nothing was delivered: fail the turn instead of
			// pretending a partial stream completed.
			turn.State = StateFailed
			return turn, fmt.Errorf("%w: %v", ErrEngine, streamErr)
		}
		// Chunks already delivered stand; persistence proceeds on the
		// partial text.
		log.Warn("engine failed mid-stream, keeping partial reply", zap.Error(streamErr))
		turn.Interrupted = true
	}

	// STREAMING -> COMPLETED. Persist even when the caller is gone; a
	// partial memory beats silent loss. The turn context may already be
	// canceled, so persistence runs detached from it.
	turn.Reply = reply.String()
	if turn.Reply != "" {
		persistCtx := context.WithoutCancel(ctx)
		assistantMsg, err := o.conversations.Append(persistCtx, conversationID, core.RoleAssistant, turn.Reply)
		if err != nil {
			// The caller already received the text; record the loss
			// instead of retroactively failing the turn.
			log.Error("failed to persist assistant reply", zap.Error(err))
		} else {
			o.worker.Enqueue(assistantMsg)
		}
	}

	turn.State = StateCompleted
	log.Info("turn completed",
		zap.Int("context_results", len(turn.Context)),
		zap.Int("reply_bytes", len(turn.Reply)),
		zap.Bool("interrupted", turn.Interrupted),
	)
	return turn, nil
}
