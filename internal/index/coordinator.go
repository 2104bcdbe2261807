// Package index coordinates mutations across the document store, the
// BM25 index and the vector index. Per-id locks serialize mutations
// to one document in arrival order; a slow provider blocks only
// same-id writers, never readers or other documents.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fathomlabs/fathom/internal/embed"
	ferrors "github.com/fathomlabs/fathom/internal/errors"
	"github.com/fathomlabs/fathom/internal/search"
	"github.com/fathomlabs/fathom/internal/store"
)

// MaxIDLength bounds document identifiers.
const MaxIDLength = 256

// Config tunes the coordinator.
type Config struct {
	// BatchConcurrency bounds parallel embedding calls in batch
	// operations. Defaults to 4.
	BatchConcurrency int
}

// Coordinator applies validated mutations to the search engine.
type Coordinator struct {
	engine   *search.Engine
	embedder embed.Embedder
	config   Config
	locks    *keyedMutex
	logger   *slog.Logger
}

// NewCoordinator creates a mutation coordinator bound to an engine.
// The embedder is taken from the engine.
func NewCoordinator(engine *search.Engine, config Config, logger *slog.Logger) (*Coordinator, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine: %w", search.ErrNilDependency)
	}
	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		engine:   engine,
		embedder: engine.Embedder(),
		config:   config,
		locks:    newKeyedMutex(),
		logger:   logger.With("component", "index"),
	}, nil
}

// ValidateDocument checks the invariants every mutation requires.
func ValidateDocument(doc *store.Document) error {
	if doc == nil {
		return ferrors.InvalidArgument("document is nil")
	}
	id := strings.TrimSpace(doc.ID)
	if id == "" {
		return ferrors.InvalidArgument("document id is required")
	}
	if id != doc.ID {
		return ferrors.InvalidArgument(fmt.Sprintf("document id %q has leading or trailing whitespace", doc.ID))
	}
	if len(doc.ID) > MaxIDLength {
		return ferrors.InvalidArgument(fmt.Sprintf("document id exceeds %d bytes", MaxIDLength))
	}
	if strings.TrimSpace(doc.Title) == "" {
		return ferrors.InvalidArgument(fmt.Sprintf("document %s: title is required", doc.ID))
	}
	return nil
}

// CreateOrUpdate embeds the document text and commits the document to
// all three stores. The per-id lock is held across the embed call so
// concurrent updates to one document commit in arrival order. When
// title and description match the stored document the stored embedding
// is reused and the provider is not called, so metadata-only touches
// succeed even while the provider is down. If the provider fails the
// stores are untouched.
func (c *Coordinator) CreateOrUpdate(ctx context.Context, doc *store.Document) error {
	if err := ValidateDocument(doc); err != nil {
		return err
	}

	unlock := c.locks.Lock(doc.ID)
	defer unlock()

	prev, err := c.engine.DocumentStore().Get(ctx, doc.ID)
	if err != nil && !ferrors.IsNotFound(err) {
		return err
	}
	if prev != nil && prev.Title == doc.Title && prev.Description == doc.Description && len(prev.Embedding) > 0 {
		doc.Embedding = prev.Embedding
		return c.engine.Apply(ctx, doc, prev.Embedding)
	}

	vector, err := c.embedder.Embed(ctx, doc.SearchText())
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.ID, err)
	}
	doc.Embedding = vector
	return c.engine.Apply(ctx, doc, vector)
}

// Delete removes a document from all three stores. Returns a
// not-found error for unknown ids.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ferrors.InvalidArgument("document id is required")
	}
	unlock := c.locks.Lock(id)
	defer unlock()
	return c.engine.Remove(ctx, id)
}

// ItemResult is the per-document outcome of a batch operation.
type ItemResult struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool { return r.Err == nil }

// BatchResult summarizes a batch operation.
type BatchResult struct {
	Items     []ItemResult `json:"items"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

func summarize(items []ItemResult) *BatchResult {
	res := &BatchResult{Items: items}
	for _, it := range items {
		if it.OK() {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res
}

// BatchCreateOrUpdate applies many documents with per-item outcomes.
// Embeddings run concurrently up to BatchConcurrency; documents whose
// embedding fails are reported individually and do not block the
// rest. Valid documents are committed under a single engine lock.
func (c *Coordinator) BatchCreateOrUpdate(ctx context.Context, docs []*store.Document) (*BatchResult, error) {
	if len(docs) == 0 {
		return &BatchResult{}, nil
	}

	items := make([]ItemResult, len(docs))
	vectors := make([][]float32, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.BatchConcurrency)
	for i, doc := range docs {
		items[i].ID = docID(doc)
		if err := ValidateDocument(doc); err != nil {
			items[i].Err = err
			continue
		}
		g.Go(func() error {
			vec, err := c.embedder.Embed(gctx, doc.SearchText())
			if err != nil {
				items[i].Err = fmt.Errorf("embed document %s: %w", doc.ID, err)
				return nil
			}
			doc.Embedding = vec
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	// Commit the documents that embedded successfully.
	var (
		commitDocs []*store.Document
		commitVecs [][]float32
		commitIdx  []int
	)
	for i, doc := range docs {
		if items[i].Err == nil && vectors[i] != nil {
			commitDocs = append(commitDocs, doc)
			commitVecs = append(commitVecs, vectors[i])
			commitIdx = append(commitIdx, i)
		}
	}
	if len(commitDocs) > 0 {
		errs, err := c.engine.ApplyBatch(ctx, commitDocs, commitVecs)
		if err != nil {
			return nil, err
		}
		for j, idx := range commitIdx {
			items[idx].Err = errs[j]
		}
	}

	result := summarize(items)
	if result.Failed > 0 {
		c.logger.Warn("batch index completed with failures",
			"total", len(docs), "succeeded", result.Succeeded, "failed", result.Failed)
	}
	return result, nil
}

// BatchDelete removes many documents with per-item outcomes.
func (c *Coordinator) BatchDelete(ctx context.Context, ids []string) (*BatchResult, error) {
	if len(ids) == 0 {
		return &BatchResult{}, nil
	}
	errs, err := c.engine.RemoveBatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]ItemResult, len(ids))
	for i, id := range ids {
		items[i] = ItemResult{ID: id, Err: errs[i]}
	}
	return summarize(items), nil
}

// Rebuild reconstructs both indexes from the document store, removing
// index entries whose documents no longer exist. Stored embeddings are
// reused; only documents without one go back to the provider. A
// document whose embedding cannot be produced is excluded from vector
// ranking but keeps its lexical entry. The engine stays searchable
// while embeddings are produced and is locked only for the final swap.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	docs, err := c.listAll(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	vectors := make([][]float32, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.BatchConcurrency)
	for i, doc := range docs {
		if len(doc.Embedding) > 0 {
			vectors[i] = doc.Embedding
			continue
		}
		g.Go(func() error {
			vec, err := c.embedder.Embed(gctx, doc.SearchText())
			if err != nil {
				c.logger.Warn("embedding unavailable during rebuild, keeping lexical entry only",
					"id", doc.ID, "error", err)
				return nil
			}
			doc.Embedding = vec
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return ferrors.Timeout("rebuild interrupted", err)
	}

	if err := c.engine.Rebuild(ctx, docs, vectors); err != nil {
		return err
	}
	c.logger.Info("index rebuild complete", "documents", len(docs))
	return nil
}

// listAll pages through the document store.
func (c *Coordinator) listAll(ctx context.Context) ([]*store.Document, error) {
	const pageSize = 500
	var all []*store.Document
	for offset := 0; ; offset += pageSize {
		page, err := c.engine.DocumentStore().List(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func docID(doc *store.Document) string {
	if doc == nil {
		return ""
	}
	return doc.ID
}
