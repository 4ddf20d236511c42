// Package qdrant implements the memory.Store interface on Qdrant's native
// gRPC client. One collection holds all conversations; isolation is enforced
// with a payload filter on conversation_id.
package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/everbrook-ai/engram/core"
	"github.com/everbrook-ai/engram/memory"
)

// Config holds configuration for the Qdrant gRPC client.
type Config struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the gRPC port (6334), not the HTTP REST port (6333).
	Port int

	// Collection is the collection holding memory records.
	Collection string

	// VectorSize must match the embedder's output dimension.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries bounds retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 1s.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "engram_memories"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("vector size is required")
	}
	return nil
}

// Store is a memory.Store backed by a remote Qdrant instance.
type Store struct {
	client *qdrant.Client
	config Config
	logger *zap.Logger
}

// New connects to Qdrant and ensures the collection exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	s := &Store{client: client, config: cfg, logger: logger}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
	)
	return s, nil
}

// Upsert saves a record. The point id is a deterministic UUID derived from
// the record id, so re-processing the same message replaces in place.
func (s *Store) Upsert(ctx context.Context, rec memory.Record) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID(rec.ID)),
		Vectors: qdrant.NewVectors(rec.Embedding...),
		Payload: map[string]*qdrant.Value{
			"record_id":       {Kind: &qdrant.Value_StringValue{StringValue: rec.ID}},
			"conversation_id": {Kind: &qdrant.Value_StringValue{StringValue: rec.ConversationID}},
			"role":            {Kind: &qdrant.Value_StringValue{StringValue: string(rec.Role)}},
			"text":            {Kind: &qdrant.Value_StringValue{StringValue: rec.Text}},
			"created_at":      {Kind: &qdrant.Value_StringValue{StringValue: rec.CreatedAt.UTC().Format(time.RFC3339Nano)}},
		},
	}

	return s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
}

// Query returns up to limit records from the conversation ordered by
// similarity, highest first.
func (s *Store) Query(ctx context.Context, conversationID string, embedding []float32, limit int) ([]memory.Result, error) {
	if limit <= 0 {
		return nil, nil
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "conversation_id",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: conversationID},
					},
				},
			},
		}},
	}

	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	results := make([]memory.Result, 0, len(points))
	for _, p := range points {
		rec := memory.Record{ConversationID: conversationID}
		if v, ok := p.Payload["record_id"]; ok {
			rec.ID = v.GetStringValue()
		}
		if v, ok := p.Payload["role"]; ok {
			rec.Role = core.Role(v.GetStringValue())
		}
		if v, ok := p.Payload["text"]; ok {
			rec.Text = v.GetStringValue()
		}
		if v, ok := p.Payload["created_at"]; ok {
			rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, v.GetStringValue())
		}
		results = append(results, memory.Result{Record: rec, Score: p.Score})
	}
	return results, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// retry runs op, retrying transient gRPC failures with exponential backoff.
func (s *Store) retry(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying qdrant operation",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = op(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
	}
	return err
}

// isTransient reports whether the gRPC status code is worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// pointID maps a record id onto a stable UUID, since Qdrant point ids must
// be UUIDs or unsigned integers.
func pointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String()
}
