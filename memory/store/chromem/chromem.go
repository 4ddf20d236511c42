// Package chromem implements the memory.Store interface on chromem-go, an
// embedded pure-Go vector database. Suitable for single-node deployments and
// tests; the qdrant store covers the remote case.
package chromem

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/core"
	"github.com/everbrook-ai/engram/memory"
)

// Store wraps chromem-go for vector storage. Each conversation gets its own
// collection, so cross-conversation leakage is structurally impossible.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      *zap.Logger
}

// New creates an in-memory store. Contents are lost on process exit.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		logger:      logger,
	}
}

// NewPersistent creates a store persisted under dir.
func NewPersistent(dir string, compress bool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("create persistent DB: %w", err)
	}
	logger.Info("chromem store initialized", zap.String("path", dir), zap.Bool("compress", compress))
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      logger,
	}, nil
}

// Upsert saves a record. chromem keeps documents keyed by id, so writing the
// same id again replaces the prior document.
func (s *Store) Upsert(ctx context.Context, rec memory.Record) error {
	col, err := s.collection(rec.ConversationID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"conversation_id": rec.ConversationID,
			"role":            string(rec.Role),
			"created_at":      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Query returns up to limit records from the conversation ordered by cosine
// similarity, highest first. An empty or unknown conversation yields nil.
func (s *Store) Query(ctx context.Context, conversationID string, embedding []float32, limit int) ([]memory.Result, error) {
	col, err := s.collection(conversationID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the collection size.
	if count := col.Count(); count < limit {
		limit = count
	}
	if limit <= 0 {
		return nil, nil
	}

	raw, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	results := make([]memory.Result, 0, len(raw))
	for _, r := range raw {
		createdAt, _ := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
		results = append(results, memory.Result{
			Record: memory.Record{
				ID:             r.ID,
				ConversationID: conversationID,
				Role:           core.Role(r.Metadata["role"]),
				Text:           r.Content,
				CreatedAt:      createdAt,
				Embedding:      r.Embedding,
			},
			Score: r.Similarity,
		})
	}
	return results, nil
}

// Close releases resources. chromem keeps state in memory (plus gob files
// for persistent stores), so there is nothing to flush.
func (s *Store) Close() error {
	return nil
}

func (s *Store) collection(conversationID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[conversationID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, exists := s.collections[conversationID]; exists {
		return col, nil
	}

	name := "conv_" + conversationID
	// nil embedding func: records and queries always carry their own vectors.
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", name, err)
	}
	s.collections[conversationID] = col
	return col, nil
}
