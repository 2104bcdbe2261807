package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"sync"
)

// BM25Index is an in-memory inverted index scored with BM25.
//
// Aggregate statistics (document count, average length) are maintained
// incrementally on every mutation. Batch updates touching more than
// RebuildFraction of the corpus recompute them from scratch instead,
// which also clears any accumulated floating point drift.
type BM25Index struct {
	mu     sync.RWMutex
	config BM25Config

	// term -> docID -> term frequency
	postings map[string]map[string]int
	// docID -> term -> term frequency, kept for O(terms) removal
	docTerms map[string]map[string]int
	// docID -> token count
	docLens map[string]int

	totalLen  int
	stopWords map[string]struct{}
	closed    bool
}

// NewBM25Index creates an empty index with the given configuration.
func NewBM25Index(cfg BM25Config) *BM25Index {
	if cfg.K1 <= 0 {
		cfg.K1 = 1.5
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = 0.75
	}
	return &BM25Index{
		config:    cfg,
		postings:  make(map[string]map[string]int),
		docTerms:  make(map[string]map[string]int),
		docLens:   make(map[string]int),
		stopWords: BuildStopWordMap(cfg.StopWords),
	}
}

// Index adds or replaces a document's terms.
func (idx *BM25Index) Index(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document must have an id")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	idx.indexLocked(doc)
	return nil
}

// IndexBatch adds or replaces many documents in one pass. When the
// batch touches more than RebuildFraction of the resulting corpus the
// aggregate statistics are recomputed from scratch afterwards.
func (idx *BM25Index) IndexBatch(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return fmt.Errorf("document must have an id")
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	for _, doc := range docs {
		idx.indexLocked(doc)
	}

	frac := idx.config.RebuildFraction
	if frac > 0 && len(idx.docLens) > 0 {
		if float64(len(docs))/float64(len(idx.docLens)) > frac {
			idx.rebuildStatsLocked()
		}
	}

	return nil
}

// indexLocked tokenizes and stores a single document. Caller holds the
// write lock.
func (idx *BM25Index) indexLocked(doc *Document) {
	// Replace semantics: drop any previous terms first
	idx.removeLocked(doc.ID)

	tokens := Tokenize(doc.SearchText(), idx.config.MinTokenLength)
	tokens = FilterStopWords(tokens, idx.stopWords)

	terms := make(map[string]int, len(tokens))
	for _, t := range tokens {
		terms[t]++
	}

	for term, tf := range terms {
		docs, ok := idx.postings[term]
		if !ok {
			docs = make(map[string]int)
			idx.postings[term] = docs
		}
		docs[doc.ID] = tf
	}

	idx.docTerms[doc.ID] = terms
	idx.docLens[doc.ID] = len(tokens)
	idx.totalLen += len(tokens)
}

// Delete removes a document. Unknown ids are a no-op.
func (idx *BM25Index) Delete(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	idx.removeLocked(id)
	return nil
}

// removeLocked drops a document's postings. Caller holds the write lock.
func (idx *BM25Index) removeLocked(id string) {
	terms, ok := idx.docTerms[id]
	if !ok {
		return
	}

	for term := range terms {
		docs := idx.postings[term]
		delete(docs, id)
		if len(docs) == 0 {
			delete(idx.postings, term)
		}
	}

	idx.totalLen -= idx.docLens[id]
	delete(idx.docTerms, id)
	delete(idx.docLens, id)
}

// rebuildStatsLocked recomputes aggregate statistics from the per-doc
// maps. Caller holds the write lock.
func (idx *BM25Index) rebuildStatsLocked() {
	total := 0
	for _, l := range idx.docLens {
		total += l
	}
	idx.totalLen = total
}

// Scores returns BM25 scores for every document matching at least one
// query term. Documents matching no term are absent from the map.
func (idx *BM25Index) Scores(ctx context.Context, query string) (map[string]float64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, fmt.Errorf("index is closed")
	}

	scores := make(map[string]float64)

	n := len(idx.docLens)
	if n == 0 {
		return scores, nil
	}

	tokens := Tokenize(query, idx.config.MinTokenLength)
	tokens = FilterStopWords(tokens, idx.stopWords)
	if len(tokens) == 0 {
		return scores, nil
	}

	avgLen := float64(idx.totalLen) / float64(n)
	k1 := idx.config.K1
	b := idx.config.B

	// Duplicate query terms contribute once per occurrence, matching
	// the summation over query terms rather than unique terms.
	for _, term := range tokens {
		docs, ok := idx.postings[term]
		if !ok {
			continue
		}

		df := float64(len(docs))
		// Smoothed IDF, always positive
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))

		for id, tf := range docs {
			tfF := float64(tf)
			docLen := float64(idx.docLens[id])
			norm := tfF + k1*(1-b+b*docLen/avgLen)
			scores[id] += idf * (tfF * (k1 + 1)) / norm
		}
	}

	return scores, nil
}

// AllIDs returns every indexed document id.
func (idx *BM25Index) AllIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil
	}

	ids := make([]string, 0, len(idx.docLens))
	for id := range idx.docLens {
		ids = append(ids, id)
	}
	return ids
}

// Contains checks if a document is indexed.
func (idx *BM25Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return false
	}

	_, ok := idx.docLens[id]
	return ok
}

// Count returns the number of indexed documents.
func (idx *BM25Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return 0
	}

	return len(idx.docLens)
}

// BM25Stats describes index state for diagnostics.
type BM25Stats struct {
	Documents    int
	UniqueTerms  int
	TotalTokens  int
	AvgDocLength float64
}

// Stats returns index statistics.
func (idx *BM25Index) Stats() BM25Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed || len(idx.docLens) == 0 {
		return BM25Stats{UniqueTerms: len(idx.postings)}
	}

	return BM25Stats{
		Documents:    len(idx.docLens),
		UniqueTerms:  len(idx.postings),
		TotalTokens:  idx.totalLen,
		AvgDocLength: float64(idx.totalLen) / float64(len(idx.docLens)),
	}
}

// bm25Snapshot is the gob-serialized index state. The postings map is
// reconstructed from docTerms on restore.
type bm25Snapshot struct {
	Config   BM25Config
	DocTerms map[string]map[string]int
	DocLens  map[string]int
}

// SnapshotTo serializes the index state to w.
func (idx *BM25Index) SnapshotTo(w io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	snap := bm25Snapshot{
		Config:   idx.config,
		DocTerms: idx.docTerms,
		DocLens:  idx.docLens,
	}

	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode bm25 snapshot: %w", err)
	}
	return nil
}

// RestoreFrom replaces the index state with a serialized snapshot.
func (idx *BM25Index) RestoreFrom(r io.Reader) error {
	var snap bm25Snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode bm25 snapshot: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("index is closed")
	}

	idx.config = snap.Config
	idx.stopWords = BuildStopWordMap(snap.Config.StopWords)
	idx.docTerms = snap.DocTerms
	idx.docLens = snap.DocLens
	if idx.docTerms == nil {
		idx.docTerms = make(map[string]map[string]int)
	}
	if idx.docLens == nil {
		idx.docLens = make(map[string]int)
	}

	idx.postings = make(map[string]map[string]int)
	for id, terms := range idx.docTerms {
		for term, tf := range terms {
			docs, ok := idx.postings[term]
			if !ok {
				docs = make(map[string]int)
				idx.postings[term] = docs
			}
			docs[id] = tf
		}
	}

	idx.rebuildStatsLocked()
	return nil
}

// Close releases the index. Further operations fail.
func (idx *BM25Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return nil
	}

	idx.closed = true
	idx.postings = nil
	idx.docTerms = nil
	idx.docLens = nil
	return nil
}

// Verify interface implementations
var (
	_ LexicalIndex = (*BM25Index)(nil)
	_ Snapshotter  = (*BM25Index)(nil)
)
