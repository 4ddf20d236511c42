package memory_test

import (
	"context"
	"errors"
	"fmt"
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

func newManager(t *testing.T, params memory.Params) *memory.Manager {
	t.Helper()
	store := chromem.New(zap.NewNop())
	t.Cleanup(func() { store.Close() })

	mgr, err := memory.New(store, mock.New(), params, zap.NewNop())
	require.NoError(t, err)
	return mgr
}

func msg(conversationID string, seq int64, role core.Role, text string) core.Message {
	return core.Message{
		ConversationID: conversationID,
		Seq:            seq,
		Role:           role,
		Text:           text,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
	}
}

func TestManager_RememberAndRecall(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.DefaultParams())

	id, err := mgr.Remember(ctx, msg("conv1", 1, core.RoleUser, "the database lives on host db-prod-3"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Identical text embeds identically, so the stored record must come
	// back above the 0.7 default threshold.
	results, err := mgr.Recall(ctx, "conv1", "the database lives on host db-prod-3")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Record.ID)
	assert.Equal(t, "the database lives on host db-prod-3", results[0].Record.Text)
	assert.Equal(t, core.RoleUser, results[0].Record.Role)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)
}

func TestManager_RememberEmptyTextIsNoOp(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.Params{TopK: 3, MinSimilarity: 0})

	id, err := mgr.Remember(ctx, msg("conv1", 1, core.RoleUser, "   \n\t  "))
	require.NoError(t, err)
	assert.Empty(t, id)

	results, err := mgr.Recall(ctx, "conv1", "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestManager_RememberIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.DefaultParams())

	m := msg("conv1", 7, core.RoleAssistant, "use exponential backoff")
	id1, err := mgr.Remember(ctx, m)
	require.NoError(t, err)
	id2, err := mgr.Remember(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// The duplicate write replaced the record instead of adding a second.
	results, err := mgr.Recall(ctx, "conv1", "use exponential backoff")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestManager_RecallCapsAtTopK(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.Params{TopK: 3, MinSimilarity: 0.7})

	// Identical text at every sequence: all candidates tie at full
	// similarity, forcing the cap and the recency tie-break.
	for seq := int64(1); seq <= 5; seq++ {
		_, err := mgr.Remember(ctx, msg("conv1", seq, core.RoleUser, "retries use jittered backoff"))
		require.NoError(t, err)
	}

	results, err := mgr.Recall(ctx, "conv1", "retries use jittered backoff")
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i := 1; i < len(results); i++ {
		assert.False(t, results[i].Record.CreatedAt.After(results[i-1].Record.CreatedAt),
			"equal scores must be ordered most recent first")
	}
}

func TestManager_RecallFiltersBelowThreshold(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.DefaultParams())

	// Hash embeddings of unrelated texts are effectively orthogonal, far
	// below the 0.7 threshold.
	_, err := mgr.Remember(ctx, msg("conv1", 1, core.RoleUser, "my favourite colour is teal"))
	require.NoError(t, err)

	results, err := mgr.Recall(ctx, "conv1", "how do I configure the load balancer")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestManager_ConversationIsolation(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.Params{TopK: 10, MinSimilarity: 0})

	_, err := mgr.Remember(ctx, msg("conv-a", 1, core.RoleUser, "the api key is rotated monthly"))
	require.NoError(t, err)

	results, err := mgr.Recall(ctx, "conv-b", "the api key is rotated monthly")
	require.NoError(t, err)
	assert.Empty(t, results, "records from another conversation must never surface")
}

func TestManager_RecallEmptyQueryReturnsNothing(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t, memory.DefaultParams())

	results, err := mgr.Recall(ctx, "conv1", "  ")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecordID_Deterministic(t *testing.T) {
	a := memory.RecordID("conv1", 42)
	b := memory.RecordID("conv1", 42)
	c := memory.RecordID("conv1", 43)
	d := memory.RecordID("conv2", 42)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Contains(t, a, "mem-")
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("model unavailable")
}

func (failingEmbedder) Dimensions() int { return 384 }

func TestManager_EmbedderFailureWrapsErrEncoding(t *testing.T) {
	ctx := context.Background()
	store := chromem.New(zap.NewNop())
	t.Cleanup(func() { store.Close() })

	mgr, err := memory.New(store, failingEmbedder{}, memory.DefaultParams(), zap.NewNop())
	require.NoError(t, err)

	_, err = mgr.Remember(ctx, msg("conv1", 1, core.RoleUser, "hello"))
	assert.True(t, errors.Is(err, memory.ErrEncoding))

	_, err = mgr.Recall(ctx, "conv1", "hello")
	assert.True(t, errors.Is(err, memory.ErrEncoding))
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, memory.DefaultParams().Validate())
	assert.Error(t, memory.Params{TopK: 0, MinSimilarity: 0.5}.Validate())
	assert.Error(t, memory.Params{TopK: 3, MinSimilarity: -0.1}.Validate())
	assert.Error(t, memory.Params{TopK: 3, MinSimilarity: 1.1}.Validate())
}
