// Package persist saves and restores index snapshots so the in-memory
// BM25 and HNSW indexes survive restarts without a full rebuild. The
// document store is SQLite and needs no snapshotting; only the two
// derived indexes are captured, with a manifest recording the counts
// they held at capture time.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	ferrors "github.com/fathomlabs/fathom/internal/errors"
	"github.com/fathomlabs/fathom/internal/search"
	"github.com/fathomlabs/fathom/internal/store"
)

const (
	manifestFile = "manifest.json"
	lexicalFile  = "lexical.gob"
	vectorFile   = "vector.gob"
)

// Manifest describes a snapshot on disk. It is written last, so its
// presence marks the snapshot complete.
type Manifest struct {
	CreatedAt time.Time `json:"created_at"`
	Documents int       `json:"documents"`
	Lexical   int       `json:"lexical"`
	Vector    int       `json:"vector"`
}

// Snapshotter captures and restores engine index state under a
// directory.
type Snapshotter struct {
	engine *search.Engine
	dir    string
	logger *slog.Logger
}

// NewSnapshotter creates a snapshotter rooted at dir. Both indexes of
// the engine must support snapshotting.
func NewSnapshotter(engine *search.Engine, dir string, logger *slog.Logger) (*Snapshotter, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine: %w", search.ErrNilDependency)
	}
	if _, ok := engine.LexicalIndex().(store.Snapshotter); !ok {
		return nil, ferrors.New(ferrors.ErrCodeSnapshotFailed, "lexical index does not support snapshots", nil)
	}
	if _, ok := engine.VectorStore().(store.Snapshotter); !ok {
		return nil, ferrors.New(ferrors.ErrCodeSnapshotFailed, "vector store does not support snapshots", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{engine: engine, dir: dir, logger: logger.With("component", "persist")}, nil
}

// Exists reports whether a complete snapshot is present.
func (s *Snapshotter) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, manifestFile))
	return err == nil
}

// Save captures both indexes under the engine read lock and writes
// them atomically: each file goes through a temp rename, and the
// manifest lands last.
func (s *Snapshotter) Save(ctx context.Context) error {
	start := time.Now()
	var manifest Manifest

	err := s.engine.WithReadLock(func() error {
		docCount, err := s.engine.DocumentStore().Count(ctx)
		if err != nil {
			return fmt.Errorf("document count: %w", err)
		}
		manifest = Manifest{
			CreatedAt: time.Now().UTC(),
			Documents: docCount,
			Lexical:   s.engine.LexicalIndex().Count(),
			Vector:    s.engine.VectorStore().Count(),
		}
		if err := writeSnapshotFile(filepath.Join(s.dir, lexicalFile), s.engine.LexicalIndex().(store.Snapshotter)); err != nil {
			return fmt.Errorf("snapshot lexical index: %w", err)
		}
		if err := writeSnapshotFile(filepath.Join(s.dir, vectorFile), s.engine.VectorStore().(store.Snapshotter)); err != nil {
			return fmt.Errorf("snapshot vector index: %w", err)
		}
		return nil
	})
	if err != nil {
		return ferrors.Wrap(ferrors.ErrCodeSnapshotFailed, err)
	}

	if err := writeManifest(filepath.Join(s.dir, manifestFile), manifest); err != nil {
		return ferrors.Wrap(ferrors.ErrCodeSnapshotFailed, err)
	}

	s.logger.Info("snapshot saved",
		"lexical", manifest.Lexical,
		"vector", manifest.Vector,
		"duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

// Load restores both indexes from the snapshot under the engine write
// lock. Returns os.ErrNotExist when no snapshot is present and a
// corrupt-snapshot error when decoding fails, so the caller can fall
// back to a rebuild.
func (s *Snapshotter) Load() (*Manifest, error) {
	manifestPath := filepath.Join(s.dir, manifestFile)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, ferrors.New(ferrors.ErrCodeCorruptSnapshot, "manifest is not valid JSON", err)
	}

	err = s.engine.WithWriteLock(func() error {
		if err := readSnapshotFile(filepath.Join(s.dir, lexicalFile), s.engine.LexicalIndex().(store.Snapshotter)); err != nil {
			return ferrors.New(ferrors.ErrCodeCorruptSnapshot, "restore lexical index", err)
		}
		if err := readSnapshotFile(filepath.Join(s.dir, vectorFile), s.engine.VectorStore().(store.Snapshotter)); err != nil {
			return ferrors.New(ferrors.ErrCodeCorruptSnapshot, "restore vector index", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("snapshot restored",
		"lexical", manifest.Lexical,
		"vector", manifest.Vector,
		"created_at", manifest.CreatedAt.Format(time.RFC3339))
	return &manifest, nil
}

func writeSnapshotFile(path string, src store.Snapshotter) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := src.SnapshotTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readSnapshotFile(path string, dst store.Snapshotter) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return dst.RestoreFrom(f)
}

func writeManifest(path string, m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
