package mock_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everbrook-ai/engram/memory/embedder/mock"
)

func TestEmbed_DeterministicAndNormalized(t *testing.T) {
	ctx := context.Background()
	e := mock.New()

	a, err := e.Embed(ctx, "the same text")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 384)
	assert.Equal(t, 384, e.Dimensions())

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-3)
}

func TestEmbed_DifferentTextsDiffer(t *testing.T) {
	ctx := context.Background()
	e := mock.NewWithDimensions(64)

	a, err := e.Embed(ctx, "first text")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "second text")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}
