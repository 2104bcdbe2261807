package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts provider calls.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls int32
	batchCalls int32
	batchTexts int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.embedCalls, 1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.batchCalls, 1)
	atomic.AddInt32(&c.batchTexts, int32(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedderHit(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	v1, err := cached.Embed(ctx, "coffee grinder")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "coffee grinder")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.embedCalls)
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedderBatchPartialHits(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "b")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// only the two misses reach the provider
	assert.Equal(t, int32(1), inner.batchCalls)
	assert.Equal(t, int32(2), inner.batchTexts)

	want, err := inner.StaticEmbedder.Embed(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, want, vecs[1])
}

func TestCachedEmbedderAllHitsSkipProvider(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)

	_, err = cached.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.batchCalls)
}

func TestCachedEmbedderEviction(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		_, err := cached.Embed(ctx, text)
		require.NoError(t, err)
	}

	// "a" was evicted, embedding it again hits the provider
	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(4), inner.embedCalls)
}

func TestCachedEmbedderPassthrough(t *testing.T) {
	inner := NewStaticEmbedder()
	cached := NewCachedEmbedder(inner, 10)

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, Embedder(inner), cached.Inner())

	require.NoError(t, cached.Close())
	assert.False(t, cached.Available(context.Background()))
}
