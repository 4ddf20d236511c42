package memory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/core"
)

// Params are the tunable retrieval knobs. They bound prompt size (latency
// and token cost) while filtering weakly related matches that would dilute
// the persona instructions.
type Params struct {
	// TopK caps the number of neighbors requested per query.
	TopK int

	// MinSimilarity discards results scoring below this threshold [0.0-1.0].
	MinSimilarity float32
}

// DefaultParams returns the retrieval defaults.
func DefaultParams() Params {
	return Params{
		TopK:          3,
		MinSimilarity: 0.7,
	}
}

// Validate checks the params are usable.
func (p Params) Validate() error {
	if p.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", p.TopK)
	}
	if p.MinSimilarity < 0 || p.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be in [0,1], got %v", p.MinSimilarity)
	}
	return nil
}

// Manager owns the mapping from conversation messages to vector-store
// records: write-on-every-message, threshold-filtered retrieval.
type Manager struct {
	store    Store
	embedder Embedder
	cache    *embedCache // nil when caching is disabled
	params   Params
	logger   *zap.Logger
}

// Option configures the manager.
type Option func(*Manager)

// WithEmbedCache puts a ristretto cache in front of the embedder so repeated
// texts (a write followed by the same text as query, retried upserts) embed
// once.
func WithEmbedCache(maxBytes int64) Option {
	return func(m *Manager) {
		if c, err := newEmbedCache(maxBytes); err == nil {
			m.cache = c
		}
	}
}

// New creates a Manager. A nil logger is replaced with a no-op logger.
func New(store Store, embedder Embedder, params Params, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:    store,
		embedder: embedder,
		params:   params,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Params returns the manager's retrieval parameters.
func (m *Manager) Params() Params {
	return m.params
}

// Remember encodes the message text and upserts a record keyed by the
// deterministic id for (conversation, sequence). Text that is empty after
// normalization is a no-op, not an error. Returns the record id.
func (m *Manager) Remember(ctx context.Context, msg core.Message) (string, error) {
	text := Normalize(msg.Text)
	if text == "" {
		return "", nil
	}

	embedding, err := m.embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	rec := NewRecord(msg)
	rec.Text = text
	rec.Embedding = embedding

	if err := m.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	m.logger.Debug("memory record stored",
		zap.String("record_id", rec.ID),
		zap.String("conversation_id", rec.ConversationID),
		zap.String("role", string(rec.Role)),
	)
	return rec.ID, nil
}

// Recall encodes the query and returns the records from the conversation
// scoring at or above MinSimilarity, at most TopK, ordered by descending
// similarity with ties broken by recency. A conversation with no qualifying
// records yet returns an empty slice, never an error.
func (m *Manager) Recall(ctx context.Context, conversationID, query string) ([]Result, error) {
	query = Normalize(query)
	if query == "" {
		return nil, nil
	}

	embedding, err := m.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	results, err := m.store.Query(ctx, conversationID, embedding, m.params.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreQuery, err)
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= m.params.MinSimilarity {
			kept = append(kept, r)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Record.CreatedAt.After(kept[j].Record.CreatedAt)
	})

	if len(kept) > m.params.TopK {
		kept = kept[:m.params.TopK]
	}

	m.logger.Debug("memory recall",
		zap.String("conversation_id", conversationID),
		zap.Int("results", len(kept)),
	)
	return kept, nil
}

// Close releases the manager's cache. The store is owned by the caller.
func (m *Manager) Close() {
	if m.cache != nil {
		m.cache.Close()
	}
}

func (m *Manager) embed(ctx context.Context, text string) ([]float32, error) {
	if m.cache != nil {
		if embedding, ok := m.cache.Get(text); ok {
			return embedding, nil
		}
	}
	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Set(text, embedding)
	}
	return embedding, nil
}
