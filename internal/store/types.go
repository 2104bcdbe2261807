// Package store provides the three storage primitives behind Fathom:
// a SQLite document store, an in-memory BM25 inverted index, and an
// HNSW vector index. The search engine composes them; the index
// coordinator keeps their membership consistent.
package store

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Document is the unit of indexing and retrieval.
type Document struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// Embedding is the stored vector for the indexed text. Empty until
	// the document has been embedded successfully. Excluded from JSON;
	// it is internal state, not part of the document's wire shape.
	Embedding []float32 `json:"-"`
	// Version increments on every successful mutation.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchText returns the text indexed for this document.
func (d *Document) SearchText() string {
	if d.Description == "" {
		return d.Title
	}
	return d.Title + " " + d.Description
}

// BM25Config contains tuning parameters for the lexical index.
type BM25Config struct {
	// K1 controls term frequency saturation (typical: 1.2-2.0).
	K1 float64
	// B controls document length normalization (0=none, 1=full).
	B float64
	// MinTokenLength filters out tokens shorter than this. The
	// default of 1 keeps every token; raising it is opt-in.
	MinTokenLength int
	// StopWords are excluded from indexing and queries.
	StopWords []string
	// RebuildFraction triggers a full statistics rebuild when a batch
	// touches more than this fraction of the corpus. 0 disables.
	RebuildFraction float64
}

// DefaultBM25Config returns the standard BM25 parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:              1.5,
		B:               0.75,
		MinTokenLength:  1,
		RebuildFraction: 0.5,
	}
}

// VectorIndexConfig contains HNSW index parameters.
type VectorIndexConfig struct {
	// Dimensions is the embedding dimensionality. Required.
	Dimensions int
	// Metric is the distance metric: "cos" (default) or "l2".
	Metric string
	// M is the maximum number of graph connections per node.
	M int
	// EfSearch is the search beam width.
	EfSearch int
	// BruteForceThreshold is the corpus size up to which queries scan
	// all live vectors exactly instead of walking the graph. Graph
	// search recall on small corpora is poor at any reasonable beam
	// width; an exact scan at this scale is cheaper than tuning. 0
	// uses the default.
	BruteForceThreshold int
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string
	Distance float32
	// Score is the similarity derived from Distance. For cosine it is
	// 1 - distance, in [-1, 1].
	Score float64
}

// LexicalIndex scores documents by BM25 term matching.
type LexicalIndex interface {
	// Index adds or replaces a document's terms.
	Index(ctx context.Context, doc *Document) error
	// IndexBatch adds or replaces many documents in one pass.
	IndexBatch(ctx context.Context, docs []*Document) error
	// Delete removes a document. Unknown ids are a no-op.
	Delete(ctx context.Context, id string) error
	// Scores returns BM25 scores for every document matching at least
	// one query term. Documents matching no term are absent from the
	// map, which is distinct from a zero score.
	Scores(ctx context.Context, query string) (map[string]float64, error)
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Close() error
}

// VectorStore indexes embeddings for approximate nearest-neighbor search.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Close() error
}

// DocumentStore is the durable system of record for documents.
type DocumentStore interface {
	// Put inserts or replaces a document, bumping its version.
	Put(ctx context.Context, doc *Document) error
	// Get returns a document or a not-found error.
	Get(ctx context.Context, id string) (*Document, error)
	// Delete removes a document. Returns a not-found error for
	// unknown ids.
	Delete(ctx context.Context, id string) error
	// List returns documents ordered by id.
	List(ctx context.Context, offset, limit int) ([]*Document, error)
	Count(ctx context.Context) (int, error)
	AllIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Snapshotter is implemented by indexes that can serialize their full
// state for persistence.
type Snapshotter interface {
	SnapshotTo(w io.Writer) error
	RestoreFrom(r io.Reader) error
}

// ErrDimensionMismatch indicates a vector with the wrong dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
