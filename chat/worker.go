package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/core"
)

const rememberTimeout = 30 * time.Second

// persistWorker runs memory writes off the chunk-relay path. Embedding a
// message can take longer than forwarding a chunk, and memory is best-effort
// by contract, so failures are logged and swallowed.
type persistWorker struct {
	memory Memory
	logger *zap.Logger
	queue  chan core.Message

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newPersistWorker(mem Memory, logger *zap.Logger, queueSize int) *persistWorker {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &persistWorker{
		memory: mem,
		logger: logger,
		queue:  make(chan core.Message, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue submits a message for memory persistence. A full queue drops the
// write rather than blocking a turn; the record id stays derivable, so a
// repair pass can re-upsert it from history later.
func (w *persistWorker) Enqueue(msg core.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- msg:
	default:
		w.logger.Warn("memory persistence queue full, dropping write",
			zap.String("conversation_id", msg.ConversationID),
			zap.Int64("seq", msg.Seq),
		)
	}
}

func (w *persistWorker) run() {
	defer w.wg.Done()
	for msg := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), rememberTimeout)
		if _, err := w.memory.Remember(ctx, msg); err != nil {
			w.logger.Warn("memory write failed",
				zap.String("conversation_id", msg.ConversationID),
				zap.Int64("seq", msg.Seq),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting writes and drains the queue.
func (w *persistWorker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	w.wg.Wait()
}
