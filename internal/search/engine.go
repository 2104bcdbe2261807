package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fathomlabs/fathom/internal/embed"
	ferrors "github.com/fathomlabs/fathom/internal/errors"
	"github.com/fathomlabs/fathom/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = stderrors.New("nil dependency")

// Engine coordinates the document store, the BM25 index and the
// vector index behind a single lock so that mutations are observed
// atomically by searches.
type Engine struct {
	docs     store.DocumentStore
	lexical  store.LexicalIndex
	vector   store.VectorStore
	embedder embed.Embedder
	config   EngineConfig
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewEngine creates a hybrid search engine. All dependencies are
// required except the logger, which defaults to slog.Default.
func NewEngine(docs store.DocumentStore, lexical store.LexicalIndex, vector store.VectorStore, embedder embed.Embedder, config EngineConfig, logger *slog.Logger) (*Engine, error) {
	if docs == nil {
		return nil, fmt.Errorf("document store: %w", ErrNilDependency)
	}
	if lexical == nil {
		return nil, fmt.Errorf("lexical index: %w", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("vector store: %w", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder: %w", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	applyConfigDefaults(&config)
	return &Engine{
		docs:     docs,
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		config:   config,
		logger:   logger.With("component", "search"),
	}, nil
}

func applyConfigDefaults(c *EngineConfig) {
	def := DefaultConfig()
	if c.MaxTopK <= 0 {
		c.MaxTopK = def.MaxTopK
	}
	if c.DefaultWeights.Lexical == 0 && c.DefaultWeights.Vector == 0 {
		c.DefaultWeights = def.DefaultWeights
	}
	if c.Fusion == "" {
		c.Fusion = def.Fusion
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = def.RRFConstant
	}
}

// Search runs a query and returns ranked results. An empty or
// whitespace-only query returns an empty result set without error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ferrors.InternalError("search engine is closed", nil)
	}
	e.mu.RUnlock()

	if opts.TopK < 1 {
		return nil, ferrors.InvalidArgument(fmt.Sprintf("topK must be positive, got %d", opts.TopK))
	}
	topK := opts.TopK
	if topK > e.config.MaxTopK {
		topK = e.config.MaxTopK
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	switch mode {
	case ModeHybrid, ModeLexical, ModeVector:
	default:
		return nil, ferrors.InvalidArgument(fmt.Sprintf("unknown search mode %q", mode))
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return []*Result{}, nil
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	// Embed outside the engine lock so slow providers never block
	// concurrent mutations.
	var queryVec []float32
	if mode != ModeLexical {
		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			if mode == ModeVector {
				return nil, fmt.Errorf("embed query: %w", err)
			}
			// Hybrid degrades to lexical-only when the provider is down.
			e.logger.Warn("query embedding failed, degrading to lexical-only",
				"query_len", len(query), "error", err)
			mode = ModeLexical
		} else {
			queryVec = vec
		}
	}

	lexScores, vecScores, err := e.collectChannels(ctx, query, queryVec, mode, topK)
	if err != nil {
		return nil, err
	}

	var results []*Result
	switch mode {
	case ModeLexical:
		results = singleChannelResults(lexScores, ChannelLexical)
	case ModeVector:
		results = singleChannelResults(vecScores, ChannelVector)
	default:
		results = e.fuse(lexScores, vecScores, opts)
	}

	if len(results) > topK {
		results = results[:topK]
	}
	applyChannelViews(results)
	e.hydrate(ctx, results)
	return results, nil
}

// collectChannels gathers raw per-channel scores under the read lock.
// In hybrid mode both channels run in parallel and a single channel
// failure degrades to partial results; both failing is an error.
func (e *Engine) collectChannels(ctx context.Context, query string, queryVec []float32, mode Mode, topK int) (map[string]float64, map[string]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch mode {
	case ModeLexical:
		scores, err := e.lexical.Scores(ctx, query)
		if err != nil {
			return nil, nil, fmt.Errorf("lexical search: %w", err)
		}
		return scores, nil, nil
	case ModeVector:
		scores, err := e.vectorScores(ctx, queryVec, topK)
		if err != nil {
			return nil, nil, fmt.Errorf("vector search: %w", err)
		}
		return nil, scores, nil
	}

	var (
		lexScores map[string]float64
		vecScores map[string]float64
		lexErr    error
		vecErr    error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexScores, lexErr = e.lexical.Scores(gctx, query)
		return nil
	})
	g.Go(func() error {
		vecScores, vecErr = e.vectorScores(gctx, queryVec, topK)
		return nil
	})
	_ = g.Wait()

	if lexErr != nil && vecErr != nil {
		return nil, nil, stderrors.Join(lexErr, vecErr)
	}
	if lexErr != nil {
		e.logger.Warn("lexical channel failed, serving vector-only results", "error", lexErr)
	}
	if vecErr != nil {
		e.logger.Warn("vector channel failed, serving lexical-only results", "error", vecErr)
	}
	return lexScores, vecScores, nil
}

// vectorScores fetches more candidates than requested so that fusion
// has overlap to work with.
func (e *Engine) vectorScores(ctx context.Context, queryVec []float32, topK int) (map[string]float64, error) {
	k := topK * 2
	if k < 20 {
		k = 20
	}
	hits, err := e.vector.Search(ctx, queryVec, k)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		scores[h.ID] = h.Score
	}
	return scores, nil
}

func (e *Engine) fuse(lexScores, vecScores map[string]float64, opts Options) []*Result {
	fusion := opts.Fusion
	if fusion == "" {
		fusion = e.config.Fusion
	}
	weights := e.config.DefaultWeights
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	channels := []Channel{
		{Name: ChannelLexical, Weight: weights.Lexical, Scores: lexScores},
		{Name: ChannelVector, Weight: weights.Vector, Scores: vecScores},
	}
	if fusion == FusionRRF {
		return RRFFuse(channels, e.config.RRFConstant)
	}
	return WeightedFuse(channels)
}

// singleChannelResults ranks one channel by its raw scores.
func singleChannelResults(scores map[string]float64, name string) []*Result {
	byID := make(map[string]*Result, len(scores))
	for id, s := range scores {
		byID[id] = &Result{ID: id, Score: s, Channels: map[string]float64{name: s}}
	}
	return sortResults(byID)
}

// applyChannelViews fills the convenience fields for the two standard
// channels from the generic channel map.
func applyChannelViews(results []*Result) {
	for _, r := range results {
		if s, ok := r.Channels[ChannelLexical]; ok {
			r.LexicalScore = s
			r.MatchedLexical = true
		}
		if s, ok := r.Channels[ChannelVector]; ok {
			r.VectorScore = s
			r.MatchedVector = true
		}
	}
}

// hydrate attaches stored documents to results. A missing document
// indicates index drift and is logged rather than failing the search.
func (e *Engine) hydrate(ctx context.Context, results []*Result) {
	for _, r := range results {
		doc, err := e.docs.Get(ctx, r.ID)
		if err != nil {
			e.logger.Warn("indexed document missing from store", "id", r.ID, "error", err)
			continue
		}
		r.Document = doc
	}
}

// Apply commits a document and its embedding to all three stores
// atomically with respect to searches. On partial failure the applied
// steps are rolled back; if rollback itself fails the stores have
// drifted and an index drift error is returned.
func (e *Engine) Apply(ctx context.Context, doc *store.Document, vector []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ferrors.InternalError("search engine is closed", nil)
	}
	return e.applyLocked(ctx, doc, vector)
}

func (e *Engine) applyLocked(ctx context.Context, doc *store.Document, vector []float32) error {
	prev, err := e.docs.Get(ctx, doc.ID)
	if err != nil && !ferrors.IsNotFound(err) {
		return fmt.Errorf("read previous document: %w", err)
	}

	if err := e.docs.Put(ctx, doc); err != nil {
		return fmt.Errorf("store document %s: %w", doc.ID, err)
	}
	if err := e.lexical.Index(ctx, doc); err != nil {
		if rbErr := e.rollbackDoc(ctx, doc.ID, prev); rbErr != nil {
			return ferrors.Drift(fmt.Sprintf("document %s: lexical index failed and rollback failed", doc.ID), stderrors.Join(err, rbErr))
		}
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	if err := e.vector.Add(ctx, []string{doc.ID}, [][]float32{vector}); err != nil {
		var rbErr error
		if prev != nil {
			rbErr = e.lexical.Index(ctx, prev)
		} else {
			rbErr = e.lexical.Delete(ctx, doc.ID)
		}
		rbErr = stderrors.Join(rbErr, e.rollbackDoc(ctx, doc.ID, prev))
		if rbErr != nil {
			return ferrors.Drift(fmt.Sprintf("document %s: vector add failed and rollback failed", doc.ID), stderrors.Join(err, rbErr))
		}
		return fmt.Errorf("vector index document %s: %w", doc.ID, err)
	}
	return nil
}

// rollbackDoc restores the document store to its pre-apply state.
func (e *Engine) rollbackDoc(ctx context.Context, id string, prev *store.Document) error {
	if prev != nil {
		return e.docs.Put(ctx, prev)
	}
	err := e.docs.Delete(ctx, id)
	if ferrors.IsNotFound(err) {
		return nil
	}
	return err
}

// ApplyBatch commits multiple documents under a single lock
// acquisition. Each document is applied independently; the returned
// slice holds the per-document outcome aligned with the input.
func (e *Engine) ApplyBatch(ctx context.Context, docs []*store.Document, vectors [][]float32) ([]error, error) {
	if len(docs) != len(vectors) {
		return nil, ferrors.InvalidArgument(fmt.Sprintf("documents and vectors length mismatch: %d vs %d", len(docs), len(vectors)))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ferrors.InternalError("search engine is closed", nil)
	}
	errs := make([]error, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			errs[i] = ferrors.Timeout(fmt.Sprintf("batch apply: %s", doc.ID), err)
			continue
		}
		errs[i] = e.applyLocked(ctx, doc, vectors[i])
	}
	return errs, nil
}

// Rebuild reconstructs both indexes from the given documents and
// embeddings under the write lock. Index entries for documents not in
// the set are removed first, then everything is reindexed in one
// batch so the BM25 statistics are recomputed exactly.
func (e *Engine) Rebuild(ctx context.Context, docs []*store.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return ferrors.InvalidArgument(fmt.Sprintf("documents and vectors length mismatch: %d vs %d", len(docs), len(vectors)))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ferrors.InternalError("search engine is closed", nil)
	}

	keep := make(map[string]struct{}, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		keep[doc.ID] = struct{}{}
		ids[i] = doc.ID
	}

	var stale []string
	for _, id := range e.lexical.AllIDs() {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range e.vector.AllIDs() {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if err := e.lexical.Delete(ctx, id); err != nil {
			return fmt.Errorf("remove stale entry %s: %w", id, err)
		}
	}
	if len(stale) > 0 {
		if err := e.vector.Delete(ctx, stale); err != nil {
			return fmt.Errorf("remove stale vector entries: %w", err)
		}
	}

	if err := e.lexical.IndexBatch(ctx, docs); err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}

	// A nil vector keeps that document out of vector ranking; its
	// lexical entry above still serves it.
	vecIDs := make([]string, 0, len(ids))
	vecs := make([][]float32, 0, len(ids))
	for i, v := range vectors {
		if v == nil {
			continue
		}
		vecIDs = append(vecIDs, ids[i])
		vecs = append(vecs, v)
	}
	if err := e.vector.Add(ctx, vecIDs, vecs); err != nil {
		return fmt.Errorf("rebuild vector index: %w", err)
	}
	return nil
}

// Remove deletes a document from all three stores. Returns a
// not-found error when the document does not exist.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ferrors.InternalError("search engine is closed", nil)
	}
	return e.removeLocked(ctx, id)
}

func (e *Engine) removeLocked(ctx context.Context, id string) error {
	if err := e.docs.Delete(ctx, id); err != nil {
		return err
	}
	lexErr := e.lexical.Delete(ctx, id)
	vecErr := e.vector.Delete(ctx, []string{id})
	if lexErr != nil || vecErr != nil {
		return ferrors.Drift(fmt.Sprintf("document %s removed from store but index removal failed", id), stderrors.Join(lexErr, vecErr))
	}
	return nil
}

// RemoveBatch deletes multiple documents under a single lock
// acquisition, returning per-document outcomes.
func (e *Engine) RemoveBatch(ctx context.Context, ids []string) ([]error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ferrors.InternalError("search engine is closed", nil)
	}
	errs := make([]error, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			errs[i] = ferrors.Timeout(fmt.Sprintf("batch remove: %s", id), err)
			continue
		}
		errs[i] = e.removeLocked(ctx, id)
	}
	return errs, nil
}

// Stats reports per-store document counts.
type Stats struct {
	Documents int `json:"documents"`
	Lexical   int `json:"lexical"`
	Vector    int `json:"vector"`
}

// InSync reports whether all stores hold the same number of entries.
func (s Stats) InSync() bool {
	return s.Documents == s.Lexical && s.Lexical == s.Vector
}

// Stats returns store counts under the read lock.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	docCount, err := e.docs.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("document count: %w", err)
	}
	return Stats{
		Documents: docCount,
		Lexical:   e.lexical.Count(),
		Vector:    e.vector.Count(),
	}, nil
}

// DocumentStore exposes the underlying document store.
func (e *Engine) DocumentStore() store.DocumentStore { return e.docs }

// LexicalIndex exposes the underlying BM25 index.
func (e *Engine) LexicalIndex() store.LexicalIndex { return e.lexical }

// VectorStore exposes the underlying vector index.
func (e *Engine) VectorStore() store.VectorStore { return e.vector }

// Embedder exposes the configured embedder.
func (e *Engine) Embedder() embed.Embedder { return e.embedder }

// WithReadLock runs fn while holding the engine read lock, giving the
// caller a consistent view across the three stores.
func (e *Engine) WithReadLock(fn func() error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn()
}

// WithWriteLock runs fn while holding the engine write lock,
// excluding all searches and mutations.
func (e *Engine) WithWriteLock(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

// Close releases all underlying resources. Safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return stderrors.Join(
		e.lexical.Close(),
		e.vector.Close(),
		e.docs.Close(),
		e.embedder.Close(),
	)
}
