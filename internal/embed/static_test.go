package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "wireless headphones")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "wireless headphones")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)
}

func TestStaticEmbedderNormalized(t *testing.T) {
	e := NewStaticEmbedder()

	v, err := e.Embed(context.Background(), "bluetooth speaker portable")
	require.NoError(t, err)

	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder()

	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, v, StaticDimensions)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestStaticEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	base, err := e.Embed(ctx, "running shoes for trail")
	require.NoError(t, err)
	similar, err := e.Embed(ctx, "trail running shoes")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "espresso machine stainless")
	require.NoError(t, err)

	assert.Greater(t, dot(base, similar), dot(base, unrelated))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestStaticEmbedderBatch(t *testing.T) {
	e := NewStaticEmbedder()

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Embed(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestStaticEmbedderClose(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	assert.False(t, e.Available(context.Background()))
	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"sho", "hoe", "oes"}, extractNgrams("shoes", 3))
	assert.Nil(t, extractNgrams("ab", 3))
}
