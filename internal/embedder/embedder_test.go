package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float32(0), CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, float32(0), CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(8)
	ctx := context.Background()

	a, err := e.Embed(ctx, "invoice approval")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "invoice approval")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "payment terms")
	require.NoError(t, err)

	assert.Len(t, a, 8)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	batch, err := e.EmbedBatch(ctx, []string{"invoice approval", "payment terms"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{a, c}, batch)
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(Config{}, nil)
	assert.Error(t, err)

	e, err := NewOpenAIEmbedder(DefaultConfig("sk-test"), nil)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-ada-002", e.ModelName())
	assert.Equal(t, 1536, e.Dimension())
}
