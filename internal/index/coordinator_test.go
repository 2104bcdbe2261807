package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/fathom/internal/embed"
	ferrors "github.com/fathomlabs/fathom/internal/errors"
	"github.com/fathomlabs/fathom/internal/search"
	"github.com/fathomlabs/fathom/internal/store"
)

func newTestCoordinator(t *testing.T, embedder embed.Embedder) (*Coordinator, *search.Engine) {
	t.Helper()
	if embedder == nil {
		embedder = embed.NewStaticEmbedder()
	}
	docs, err := store.NewSQLiteDocumentStore("")
	require.NoError(t, err)
	lexical := store.NewBM25Index(store.DefaultBM25Config())
	vector, err := store.NewHNSWIndex(store.VectorIndexConfig{Dimensions: embedder.Dimensions()})
	require.NoError(t, err)
	engine, err := search.NewEngine(docs, lexical, vector, embedder, search.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	coord, err := NewCoordinator(engine, Config{}, nil)
	require.NoError(t, err)
	return coord, engine
}

func TestCreateOrUpdate(t *testing.T) {
	coord, engine := newTestCoordinator(t, nil)
	ctx := context.Background()

	doc := &store.Document{ID: "prod-1", Title: "Espresso Machine", Description: "compact espresso maker"}
	require.NoError(t, coord.CreateOrUpdate(ctx, doc))

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.True(t, stats.InSync())

	got, err := engine.DocumentStore().Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	// Update bumps the version and replaces index entries.
	doc.Description = "dual boiler espresso machine"
	require.NoError(t, coord.CreateOrUpdate(ctx, doc))
	got, err = engine.DocumentStore().Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	stats, err = engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.True(t, stats.InSync())
}

func TestValidateDocument(t *testing.T) {
	cases := []struct {
		name string
		doc  *store.Document
	}{
		{"nil", nil},
		{"empty id", &store.Document{Title: "x"}},
		{"whitespace id", &store.Document{ID: "  ", Title: "x"}},
		{"padded id", &store.Document{ID: " prod-1", Title: "x"}},
		{"missing title", &store.Document{ID: "prod-1"}},
		{"oversized id", &store.Document{ID: string(make([]byte, MaxIDLength+1)), Title: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDocument(tc.doc)
			require.Error(t, err)
			assert.Equal(t, ferrors.ErrCodeInvalidArgument, ferrors.GetCode(err))
		})
	}

	assert.NoError(t, ValidateDocument(&store.Document{ID: "prod-1", Title: "Espresso Machine"}))
}

type flakyEmbedder struct {
	*embed.StaticEmbedder
	mu       sync.Mutex
	failFor  map[string]bool
	failAll  bool
	embedded int
}

func newFlakyEmbedder() *flakyEmbedder {
	return &flakyEmbedder{StaticEmbedder: embed.NewStaticEmbedder(), failFor: make(map[string]bool)}
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	fail := f.failAll || f.failFor[text]
	f.embedded++
	f.mu.Unlock()
	if fail {
		return nil, ferrors.EmbeddingUnavailable("provider offline", nil)
	}
	return f.StaticEmbedder.Embed(ctx, text)
}

func (f *flakyEmbedder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedded
}

func TestCreateOrUpdateEmbedFailureLeavesStoresUntouched(t *testing.T) {
	emb := newFlakyEmbedder()
	emb.failAll = true
	coord, engine := newTestCoordinator(t, emb)

	err := coord.CreateOrUpdate(context.Background(), &store.Document{ID: "prod-1", Title: "Espresso Machine"})
	require.Error(t, err)
	assert.True(t, ferrors.IsEmbeddingUnavailable(err))

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Documents)
	assert.True(t, stats.InSync())
}

func TestMetadataOnlyUpdateSkipsEmbedding(t *testing.T) {
	emb := newFlakyEmbedder()
	coord, engine := newTestCoordinator(t, emb)
	ctx := context.Background()

	doc := &store.Document{ID: "prod-1", Title: "Espresso Machine", Description: "compact espresso maker"}
	require.NoError(t, coord.CreateOrUpdate(ctx, doc))
	require.Equal(t, 1, emb.calls())

	// Same text, new metadata, provider down: the stored embedding is
	// reused and the commit still succeeds.
	emb.failAll = true
	touch := &store.Document{
		ID:          "prod-1",
		Title:       "Espresso Machine",
		Description: "compact espresso maker",
		Metadata:    map[string]string{"category": "kitchen"},
	}
	require.NoError(t, coord.CreateOrUpdate(ctx, touch))
	assert.Equal(t, 1, emb.calls())

	got, err := engine.DocumentStore().Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "kitchen", got.Metadata["category"])

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.InSync())
}

type gatedEmbedder struct {
	*embed.StaticEmbedder
	gateFor string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, g.gateFor) {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.StaticEmbedder.Embed(ctx, text)
}

func TestConcurrentUpdatesCommitInArrivalOrder(t *testing.T) {
	emb := &gatedEmbedder{
		StaticEmbedder: embed.NewStaticEmbedder(),
		gateFor:        "stalled",
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	coord, engine := newTestCoordinator(t, emb)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, coord.CreateOrUpdate(ctx, &store.Document{ID: "prod-1", Title: "stalled first revision"}))
	}()
	<-emb.entered

	// The second writer arrives while the first holds the document
	// lock inside its embed call, so it must commit after it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, coord.CreateOrUpdate(ctx, &store.Document{ID: "prod-1", Title: "second revision"}))
	}()

	close(emb.release)
	wg.Wait()

	got, err := engine.DocumentStore().Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "second revision", got.Title)
	assert.Equal(t, int64(2), got.Version)
}

func TestDelete(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	require.NoError(t, coord.CreateOrUpdate(ctx, &store.Document{ID: "prod-1", Title: "Espresso Machine"}))
	require.NoError(t, coord.Delete(ctx, "prod-1"))

	err := coord.Delete(ctx, "prod-1")
	assert.True(t, ferrors.IsNotFound(err))

	err = coord.Delete(ctx, "  ")
	assert.Equal(t, ferrors.ErrCodeInvalidArgument, ferrors.GetCode(err))
}

func TestBatchCreateOrUpdate(t *testing.T) {
	coord, engine := newTestCoordinator(t, nil)
	ctx := context.Background()

	docs := make([]*store.Document, 10)
	for i := range docs {
		docs[i] = &store.Document{ID: fmt.Sprintf("prod-%d", i), Title: fmt.Sprintf("Product %d", i)}
	}

	result, err := coord.BatchCreateOrUpdate(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Documents)
	assert.True(t, stats.InSync())
}

func TestBatchCreateOrUpdatePartialFailure(t *testing.T) {
	emb := newFlakyEmbedder()
	emb.failFor["Broken Product"] = true
	coord, engine := newTestCoordinator(t, emb)
	ctx := context.Background()

	docs := []*store.Document{
		{ID: "good-1", Title: "Espresso Machine"},
		{ID: "bad-embed", Title: "Broken Product"},
		{ID: "", Title: "No ID"},
		{ID: "good-2", Title: "Running Shoes"},
	}

	result, err := coord.BatchCreateOrUpdate(ctx, docs)
	require.NoError(t, err)
	require.Len(t, result.Items, 4)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.NoError(t, result.Items[0].Err)
	assert.True(t, ferrors.IsEmbeddingUnavailable(result.Items[1].Err))
	assert.Equal(t, ferrors.ErrCodeInvalidArgument, ferrors.GetCode(result.Items[2].Err))
	assert.NoError(t, result.Items[3].Err)

	// Failed items must not leave partial state behind.
	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.True(t, stats.InSync())
}

func TestBatchCreateOrUpdateEmpty(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil)

	result, err := coord.BatchCreateOrUpdate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestBatchDelete(t *testing.T) {
	coord, engine := newTestCoordinator(t, nil)
	ctx := context.Background()

	require.NoError(t, coord.CreateOrUpdate(ctx, &store.Document{ID: "prod-1", Title: "Espresso Machine"}))

	result, err := coord.BatchDelete(ctx, []string{"prod-1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, ferrors.IsNotFound(result.Items[1].Err))

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Documents)
}

func TestConcurrentMutationsSameDocument(t *testing.T) {
	coord, engine := newTestCoordinator(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := &store.Document{ID: "prod-1", Title: fmt.Sprintf("Espresso Machine rev %d", i)}
			assert.NoError(t, coord.CreateOrUpdate(ctx, doc))
		}()
	}
	wg.Wait()

	got, err := engine.DocumentStore().Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Version)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.True(t, stats.InSync())
}

func TestRebuild(t *testing.T) {
	coord, engine := newTestCoordinator(t, nil)
	ctx := context.Background()

	for i := range 5 {
		doc := &store.Document{ID: fmt.Sprintf("prod-%d", i), Title: fmt.Sprintf("Product %d", i)}
		require.NoError(t, coord.CreateOrUpdate(ctx, doc))
	}

	// Inject an orphan directly into the lexical index, then rebuild.
	require.NoError(t, engine.LexicalIndex().Index(ctx, &store.Document{ID: "orphan", Title: "Ghost Entry"}))

	require.NoError(t, coord.Rebuild(ctx))

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Documents)
	assert.True(t, stats.InSync())
	assert.False(t, engine.LexicalIndex().Contains("orphan"))

	results, err := engine.Search(ctx, "product", search.Options{TopK: 10, Mode: search.ModeLexical})
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestRebuildReusesStoredEmbeddings(t *testing.T) {
	emb := newFlakyEmbedder()
	coord, engine := newTestCoordinator(t, emb)
	ctx := context.Background()

	require.NoError(t, coord.CreateOrUpdate(ctx, &store.Document{ID: "prod-1", Title: "Espresso Machine"}))
	calls := emb.calls()

	// A document written behind the coordinator's back has no stored
	// embedding; with the provider down it keeps lexical ranking only.
	require.NoError(t, engine.DocumentStore().Put(ctx, &store.Document{ID: "prod-2", Title: "Running Shoes"}))

	emb.failAll = true
	require.NoError(t, coord.Rebuild(ctx))
	assert.Equal(t, calls+1, emb.calls())

	assert.True(t, engine.VectorStore().Contains("prod-1"))
	assert.True(t, engine.LexicalIndex().Contains("prod-2"))
	assert.False(t, engine.VectorStore().Contains("prod-2"))

	results, err := engine.Search(ctx, "running shoes", search.Options{TopK: 5, Mode: search.ModeLexical})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "prod-2", results[0].ID)
}

func TestRebuildPreservesSearchResults(t *testing.T) {
	coord, engine := newTestCoordinator(t, nil)
	ctx := context.Background()

	catalog := []*store.Document{
		{ID: "prod-1", Title: "Wireless Headphones", Description: "noise cancelling wireless audio"},
		{ID: "prod-2", Title: "Gaming Laptop", Description: "high performance laptop"},
		{ID: "prod-3", Title: "Espresso Machine", Description: "compact espresso maker"},
	}
	for _, doc := range catalog {
		require.NoError(t, coord.CreateOrUpdate(ctx, doc))
	}

	opts := search.Options{TopK: 3}
	before, err := engine.Search(ctx, "wireless audio", opts)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, coord.Rebuild(ctx))

	after, err := engine.Search(ctx, "wireless audio", opts)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
	}
}
