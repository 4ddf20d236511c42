package chromem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/core"
	"github.com/everbrook-ai/engram/memory"
	"github.com/everbrook-ai/engram/memory/embedder/mock"
	"github.com/everbrook-ai/engram/memory/store/chromem"
)

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := mock.New().Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func record(t *testing.T, conversationID string, seq int64, text string) memory.Record {
	t.Helper()
	rec := memory.NewRecord(core.Message{
		ConversationID: conversationID,
		Seq:            seq,
		Role:           core.RoleUser,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	})
	rec.Embedding = embed(t, text)
	return rec
}

func TestStore_UpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	store := chromem.New(zap.NewNop())
	defer store.Close()

	rec := record(t, "conv1", 1, "the deploy runs at midnight UTC")
	require.NoError(t, store.Upsert(ctx, rec))

	results, err := store.Query(ctx, "conv1", rec.Embedding, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].Record.ID)
	assert.Equal(t, rec.Text, results[0].Record.Text)
	assert.Equal(t, core.RoleUser, results[0].Record.Role)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)
	assert.WithinDuration(t, rec.CreatedAt, results[0].Record.CreatedAt, time.Millisecond)
}

func TestStore_UpsertSameIDReplaces(t *testing.T) {
	ctx := context.Background()
	store := chromem.New(zap.NewNop())
	defer store.Close()

	rec := record(t, "conv1", 1, "original text")
	require.NoError(t, store.Upsert(ctx, rec))

	rec.Text = "replacement text"
	rec.Embedding = embed(t, rec.Text)
	require.NoError(t, store.Upsert(ctx, rec))

	results, err := store.Query(ctx, "conv1", rec.Embedding, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "replacement text", results[0].Record.Text)
}

func TestStore_QueryLimitClampedToCollectionSize(t *testing.T) {
	ctx := context.Background()
	store := chromem.New(zap.NewNop())
	defer store.Close()

	rec := record(t, "conv1", 1, "only one record")
	require.NoError(t, store.Upsert(ctx, rec))

	// Asking for more neighbors than exist must not error.
	results, err := store.Query(ctx, "conv1", rec.Embedding, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestStore_QueryEmptyConversation(t *testing.T) {
	ctx := context.Background()
	store := chromem.New(zap.NewNop())
	defer store.Close()

	results, err := store.Query(ctx, "never-seen", embed(t, "query"), 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_ConversationsAreSeparateCollections(t *testing.T) {
	ctx := context.Background()
	store := chromem.New(zap.NewNop())
	defer store.Close()

	recA := record(t, "conv-a", 1, "shared phrasing across conversations")
	recB := record(t, "conv-b", 1, "shared phrasing across conversations")
	require.NoError(t, store.Upsert(ctx, recA))
	require.NoError(t, store.Upsert(ctx, recB))

	results, err := store.Query(ctx, "conv-a", recA.Embedding, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, recA.ID, results[0].Record.ID)
}

func TestStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := chromem.NewPersistent(dir, false, zap.NewNop())
	require.NoError(t, err)

	rec := record(t, "conv1", 1, "survives restarts")
	require.NoError(t, store.Upsert(ctx, rec))
	require.NoError(t, store.Close())

	reopened, err := chromem.NewPersistent(dir, false, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Query(ctx, "conv1", rec.Embedding, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.Text, results[0].Record.Text)
}
