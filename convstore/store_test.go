package convstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/convstore"
	"github.com/everbrook-ai/engram/core"
)

func newStore(t *testing.T) *convstore.Store {
	t.Helper()
	s, err := convstore.NewInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conv, err := s.Create(ctx, "owner1")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "owner1", conv.OwnerID)
	assert.Empty(t, conv.Title)

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "owner1", got.OwnerID)
}

func TestStore_GetUnknownConversation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Get(ctx, "no-such-id")
	assert.True(t, errors.Is(err, convstore.ErrNotFound))
}

func TestStore_AppendToUnknownConversation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Append(ctx, "no-such-id", core.RoleUser, "hello")
	assert.True(t, errors.Is(err, convstore.ErrNotFound))
}

func TestStore_AppendRejectsInvalidRole(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conv, err := s.Create(ctx, "owner1")
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, core.Role("system"), "nope")
	assert.Error(t, err)
}

func TestStore_HistoryPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conv, err := s.Create(ctx, "owner1")
	require.NoError(t, err)

	texts := []string{"first", "second", "third", "fourth"}
	roles := []core.Role{core.RoleUser, core.RoleAssistant, core.RoleUser, core.RoleAssistant}
	for i := range texts {
		_, err := s.Append(ctx, conv.ID, roles[i], texts[i])
		require.NoError(t, err)
	}

	msgs, err := s.History(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, texts[i], m.Text)
		assert.Equal(t, roles[i], m.Role)
		if i > 0 {
			assert.Greater(t, m.Seq, msgs[i-1].Seq, "sequence numbers must be strictly increasing")
		}
	}
}

func TestStore_TitleDerivedFromFirstUserMessage(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conv, err := s.Create(ctx, "owner1")
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, core.RoleUser, "how do I tune the retrieval threshold for recall")
	require.NoError(t, err)

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "how do I tune the", got.Title)
}

func TestStore_TitleNeverChangesAfterFirstDerivation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conv, err := s.Create(ctx, "owner1")
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, core.RoleUser, "original first message")
	require.NoError(t, err)
	_, err = s.Append(ctx, conv.ID, core.RoleAssistant, "a reply")
	require.NoError(t, err)
	_, err = s.Append(ctx, conv.ID, core.RoleUser, "a completely different followup question")
	require.NoError(t, err)

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "original first message", got.Title)
}

func TestStore_AssistantMessageDoesNotSetTitle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	conv, err := s.Create(ctx, "owner1")
	require.NoError(t, err)

	_, err = s.Append(ctx, conv.ID, core.RoleAssistant, "assistant greeting first")
	require.NoError(t, err)

	got, err := s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Title)

	// The next user message still gets to set it.
	_, err = s.Append(ctx, conv.ID, core.RoleUser, "user message arrives later")
	require.NoError(t, err)

	got, err = s.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "user message arrives later", got.Title)
}

func TestStore_ListOrdersByRecentActivity(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, err := s.Create(ctx, "owner1")
	require.NoError(t, err)
	second, err := s.Create(ctx, "owner1")
	require.NoError(t, err)

	// Only the owner's conversations show up.
	_, err = s.Create(ctx, "owner2")
	require.NoError(t, err)

	// Activity in the first conversation bumps it back to the top.
	_, err = s.Append(ctx, second.ID, core.RoleUser, "hello second")
	require.NoError(t, err)
	_, err = s.Append(ctx, first.ID, core.RoleUser, "hello first")
	require.NoError(t, err)

	infos, err := s.List(ctx, "owner1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, first.ID, infos[0].ID)
	assert.Equal(t, second.ID, infos[1].ID)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "hello", convstore.DeriveTitle("hello"))
	assert.Equal(t, "one two three four five", convstore.DeriveTitle("one two three four five six seven"))
	assert.Equal(t, "spaced out words here", convstore.DeriveTitle("  spaced   out\twords\nhere  "))
	assert.Empty(t, convstore.DeriveTitle("   "))

	long := strings.Repeat("verylongword ", 5)
	assert.LessOrEqual(t, len([]rune(convstore.DeriveTitle(long))), 80)
}
