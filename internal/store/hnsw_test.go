package store

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(VectorIndexConfig{Dimensions: 4})
	require.NoError(t, err)
	return idx
}

func TestHNSWRequiresDimensions(t *testing.T) {
	_, err := NewHNSWIndex(VectorIndexConfig{})
	assert.Error(t, err)
}

func TestHNSWAddAndSearch(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	err := idx.Add(ctx,
		[]string{"p1", "p2", "p3"},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0.9, 0.1, 0, 0},
		})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Count())

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "p1", results[0].ID)
	assert.Equal(t, "p3", results[1].ID)
	// identical direction: cosine similarity 1
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWScoreRange(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"same", "opposite"},
		[][]float32{
			{1, 0, 0, 0},
			{-1, 0, 0, 0},
		}))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]float64{}
	for _, r := range results {
		byID[r.ID] = r.Score
	}
	assert.InDelta(t, 1.0, byID["same"], 1e-5)
	assert.InDelta(t, -1.0, byID["opposite"], 1e-5)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	err := idx.Add(ctx, []string{"p1"}, [][]float32{{1, 0}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = idx.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWUpdateReplaces(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []string{"p1"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Add(ctx, []string{"p1"}, [][]float32{{0, 1, 0, 0}}))

	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)

	// old node is orphaned, not removed
	stats := idx.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 1, stats.Orphans)
}

func TestHNSWLazyDelete(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"p1", "p2"},
		[][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}}))

	require.NoError(t, idx.Delete(ctx, []string{"p1"}))

	assert.False(t, idx.Contains("p1"))
	assert.Equal(t, 1, idx.Count())

	// deleted id never surfaces in results
	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p2", results[0].ID)

	stats := idx.Stats()
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)

	// deleting unknown ids is a no-op
	require.NoError(t, idx.Delete(ctx, []string{"ghost"}))
}

func TestHNSWEmptySearch(t *testing.T) {
	idx := newTestHNSW(t)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWSnapshotRoundTrip(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"p1", "p2", "p3"},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
		}))
	require.NoError(t, idx.Delete(ctx, []string{"p3"}))

	var buf bytes.Buffer
	require.NoError(t, idx.SnapshotTo(&buf))

	restored, err := NewHNSWIndex(VectorIndexConfig{Dimensions: 4})
	require.NoError(t, err)
	require.NoError(t, restored.RestoreFrom(&buf))

	assert.Equal(t, 2, restored.Count())
	assert.True(t, restored.Contains("p1"))
	assert.False(t, restored.Contains("p3"))

	results, err := restored.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ID)

	// new adds after restore must not collide with old graph keys
	require.NoError(t, restored.Add(ctx, []string{"p4"}, [][]float32{{0, 0, 0, 1}}))
	results, err = restored.Search(ctx, []float32{0, 0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p4", results[0].ID)
}

func TestHNSWSaveLoad(t *testing.T) {
	idx := newTestHNSW(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []string{"p1"}, [][]float32{{1, 0, 0, 0}}))

	path := t.TempDir() + "/vectors.hnsw"
	require.NoError(t, idx.Save(path))

	restored, err := NewHNSWIndex(VectorIndexConfig{Dimensions: 4})
	require.NoError(t, err)
	require.NoError(t, restored.Load(path))

	assert.Equal(t, 1, restored.Count())
	assert.True(t, restored.Contains("p1"))
}

func TestHNSWClosed(t *testing.T) {
	idx := newTestHNSW(t)
	require.NoError(t, idx.Close())

	assert.Error(t, idx.Add(context.Background(), []string{"p1"}, [][]float32{{1, 0, 0, 0}}))
	_, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	assert.Error(t, err)
	assert.Equal(t, 0, idx.Count())
	assert.NoError(t, idx.Close())
}

func TestHNSWRecallAgainstBruteForce(t *testing.T) {
	const (
		dims = 16
		docs = 200
		topK = 10
	)

	idx, err := NewHNSWIndex(VectorIndexConfig{Dimensions: dims})
	require.NoError(t, err)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(42))
	ids := make([]string, docs)
	vectors := make([][]float32, docs)
	for i := range vectors {
		vec := make([]float32, dims)
		for d := range vec {
			vec[d] = rng.Float32()*2 - 1
		}
		ids[i] = fmt.Sprintf("p%03d", i)
		vectors[i] = vec
	}
	require.NoError(t, idx.Add(ctx, ids, vectors))

	query := make([]float32, dims)
	for d := range query {
		query[d] = rng.Float32()*2 - 1
	}

	type scored struct {
		id  string
		sim float64
	}
	exact := make([]scored, docs)
	for i, vec := range vectors {
		var dot, qn, vn float64
		for d := range vec {
			dot += float64(query[d]) * float64(vec[d])
			qn += float64(query[d]) * float64(query[d])
			vn += float64(vec[d]) * float64(vec[d])
		}
		exact[i] = scored{id: ids[i], sim: dot / (math.Sqrt(qn) * math.Sqrt(vn))}
	}
	sort.Slice(exact, func(i, j int) bool { return exact[i].sim > exact[j].sim })

	want := make(map[string]bool, topK)
	for _, s := range exact[:topK] {
		want[s.id] = true
	}

	results, err := idx.Search(ctx, query, topK)
	require.NoError(t, err)
	require.Len(t, results, topK)

	hits := 0
	for _, r := range results {
		if want[r.ID] {
			hits++
		}
	}
	recall := float64(hits) / float64(topK)
	assert.GreaterOrEqual(t, recall, 0.8, "recall %.2f too low", recall)
}

func TestHNSWGraphPathBeyondThreshold(t *testing.T) {
	idx, err := NewHNSWIndex(VectorIndexConfig{Dimensions: 4, BruteForceThreshold: 1})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []string{"p1", "p2", "p3"}, [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}))

	results, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p2", results[0].ID)
}
