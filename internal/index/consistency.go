package index

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	ferrors "github.com/fathomlabs/fathom/internal/errors"
)

// ConsistencyReport describes membership drift between the document
// store and the two indexes. The document store is the system of
// record: ids present there but absent from an index are missing, ids
// present in an index but absent from the store are orphans.
type ConsistencyReport struct {
	Documents int `json:"documents"`

	MissingLexical []string `json:"missing_lexical,omitempty"`
	MissingVector  []string `json:"missing_vector,omitempty"`
	OrphanLexical  []string `json:"orphan_lexical,omitempty"`
	OrphanVector   []string `json:"orphan_vector,omitempty"`
}

// Consistent reports whether all three stores agree.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.MissingLexical) == 0 && len(r.MissingVector) == 0 &&
		len(r.OrphanLexical) == 0 && len(r.OrphanVector) == 0
}

// DriftCount returns the total number of drifted entries.
func (r *ConsistencyReport) DriftCount() int {
	return len(r.MissingLexical) + len(r.MissingVector) +
		len(r.OrphanLexical) + len(r.OrphanVector)
}

// CheckConsistency compares index membership against the document
// store under a consistent read view.
func (c *Coordinator) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	report := &ConsistencyReport{}

	err := c.engine.WithReadLock(func() error {
		storeIDs, err := c.engine.DocumentStore().AllIDs(ctx)
		if err != nil {
			return fmt.Errorf("list store ids: %w", err)
		}
		report.Documents = len(storeIDs)

		inStore := make(map[string]struct{}, len(storeIDs))
		for _, id := range storeIDs {
			inStore[id] = struct{}{}
		}

		lexIDs := c.engine.LexicalIndex().AllIDs()
		vecIDs := c.engine.VectorStore().AllIDs()
		inLex := toSet(lexIDs)
		inVec := toSet(vecIDs)

		for _, id := range storeIDs {
			if _, ok := inLex[id]; !ok {
				report.MissingLexical = append(report.MissingLexical, id)
			}
			if _, ok := inVec[id]; !ok {
				report.MissingVector = append(report.MissingVector, id)
			}
		}
		for _, id := range lexIDs {
			if _, ok := inStore[id]; !ok {
				report.OrphanLexical = append(report.OrphanLexical, id)
			}
		}
		for _, id := range vecIDs {
			if _, ok := inStore[id]; !ok {
				report.OrphanVector = append(report.OrphanVector, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(report.MissingLexical)
	sort.Strings(report.MissingVector)
	sort.Strings(report.OrphanLexical)
	sort.Strings(report.OrphanVector)

	if !report.Consistent() {
		c.logger.Warn("index drift detected",
			"missing_lexical", len(report.MissingLexical),
			"missing_vector", len(report.MissingVector),
			"orphan_lexical", len(report.OrphanLexical),
			"orphan_vector", len(report.OrphanVector))
	}
	return report, nil
}

// QuickCheck compares store counts only. Cheap enough for startup and
// periodic health checks; equal counts do not prove membership
// agreement but unequal counts prove drift.
func (c *Coordinator) QuickCheck(ctx context.Context) error {
	stats, err := c.engine.Stats(ctx)
	if err != nil {
		return err
	}
	if !stats.InSync() {
		return ferrors.Drift(fmt.Sprintf("store counts diverged: documents=%d lexical=%d vector=%d",
			stats.Documents, stats.Lexical, stats.Vector), nil)
	}
	return nil
}

// Repair resolves the drift described by a report: orphans are
// removed from the indexes, missing entries are re-embedded from the
// stored document and reinserted. Embeddings for missing entries are
// produced before the write lock is taken.
func (c *Coordinator) Repair(ctx context.Context, report *ConsistencyReport) error {
	if report == nil || report.Consistent() {
		return nil
	}

	// Stage vectors for everything missing from the vector index up
	// front. Stored embeddings are reused; the provider is only asked
	// for documents that never embedded.
	type staged struct {
		id  string
		vec []float32
	}
	var reinsert []staged
	for _, id := range report.MissingVector {
		doc, err := c.engine.DocumentStore().Get(ctx, id)
		if err != nil {
			if ferrors.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("repair: read document %s: %w", id, err)
		}
		vec := doc.Embedding
		if len(vec) == 0 {
			vec, err = c.embedder.Embed(ctx, doc.SearchText())
			if err != nil {
				return fmt.Errorf("repair: embed document %s: %w", id, err)
			}
		}
		reinsert = append(reinsert, staged{id: id, vec: vec})
	}

	var repairErrs []error
	err := c.engine.WithWriteLock(func() error {
		for _, id := range report.OrphanLexical {
			if err := c.engine.LexicalIndex().Delete(ctx, id); err != nil {
				repairErrs = append(repairErrs, fmt.Errorf("remove lexical orphan %s: %w", id, err))
			}
		}
		if len(report.OrphanVector) > 0 {
			if err := c.engine.VectorStore().Delete(ctx, report.OrphanVector); err != nil {
				repairErrs = append(repairErrs, fmt.Errorf("remove vector orphans: %w", err))
			}
		}
		for _, id := range report.MissingLexical {
			doc, err := c.engine.DocumentStore().Get(ctx, id)
			if err != nil {
				if ferrors.IsNotFound(err) {
					continue
				}
				repairErrs = append(repairErrs, fmt.Errorf("read document %s: %w", id, err))
				continue
			}
			if err := c.engine.LexicalIndex().Index(ctx, doc); err != nil {
				repairErrs = append(repairErrs, fmt.Errorf("reindex document %s: %w", id, err))
			}
		}
		for _, s := range reinsert {
			if err := c.engine.VectorStore().Add(ctx, []string{s.id}, [][]float32{s.vec}); err != nil {
				repairErrs = append(repairErrs, fmt.Errorf("reinsert vector %s: %w", s.id, err))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(repairErrs) > 0 {
		return ferrors.Drift("repair completed with errors", stderrors.Join(repairErrs...))
	}
	c.logger.Info("index drift repaired", "entries", report.DriftCount())
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
