package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/embed"
	"github.com/fathomlabs/fathom/internal/index"
	"github.com/fathomlabs/fathom/internal/logging"
	"github.com/fathomlabs/fathom/internal/persist"
	"github.com/fathomlabs/fathom/internal/search"
	"github.com/fathomlabs/fathom/internal/store"
)

// app wires the full stack for a CLI invocation: config, embedder,
// the three stores, the engine, the coordinator and the snapshotter.
type app struct {
	cfg      *config.Config
	engine   *search.Engine
	coord    *index.Coordinator
	snap     *persist.Snapshotter
	logger   *slog.Logger
	cleanups []func()
}

// openApp builds the stack from the global flags. When restore is
// true the index snapshot is loaded, falling back to a rebuild from
// the document store.
func openApp(ctx context.Context, restore bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{cfg: cfg}

	logger, logCleanup, err := setupLogging(cfg)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.cleanups = append(a.cleanups, logCleanup)

	embedder, err := embed.NewFromConfig(cfg.Embeddings)
	if err != nil {
		a.close()
		return nil, err
	}

	docs, err := store.NewSQLiteDocumentStore(cfg.DocumentDBPath())
	if err != nil {
		_ = embedder.Close()
		a.close()
		return nil, err
	}

	lexical := store.NewBM25Index(store.BM25Config{
		K1:              cfg.Lexical.K1,
		B:               cfg.Lexical.B,
		MinTokenLength:  cfg.Lexical.MinTokenLength,
		RebuildFraction: cfg.Lexical.RebuildFraction,
	})

	dims := cfg.Vector.Dimensions
	if dims == 0 {
		dims = embedder.Dimensions()
	}
	vector, err := store.NewHNSWIndex(store.VectorIndexConfig{
		Dimensions:          dims,
		M:                   cfg.Vector.M,
		EfSearch:            cfg.Vector.EfSearch,
		BruteForceThreshold: cfg.Vector.BruteForceThreshold,
	})
	if err != nil {
		_ = docs.Close()
		_ = embedder.Close()
		a.close()
		return nil, err
	}

	fusion := search.FusionKind(cfg.Search.Fusion)
	engine, err := search.NewEngine(docs, lexical, vector, embedder, search.EngineConfig{
		MaxTopK: cfg.Search.MaxTopK,
		DefaultWeights: search.Weights{
			Lexical: cfg.Search.LexicalWeight,
			Vector:  cfg.Search.VectorWeight,
		},
		Fusion:      fusion,
		RRFConstant: cfg.Search.RRFConstant,
		Timeout:     cfg.Search.Timeout,
	}, logger)
	if err != nil {
		_ = vector.Close()
		_ = docs.Close()
		_ = embedder.Close()
		a.close()
		return nil, err
	}
	a.engine = engine
	a.cleanups = append(a.cleanups, func() { _ = engine.Close() })

	coord, err := index.NewCoordinator(engine, index.Config{}, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.coord = coord

	snap, err := persist.NewSnapshotter(engine, filepath.Join(cfg.Storage.DataDir, "snapshots"), logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.snap = snap

	if restore {
		if err := persist.LoadOrRebuild(ctx, snap, coord, logger); err != nil {
			a.close()
			return nil, fmt.Errorf("restore indexes: %w", err)
		}
		// A snapshot older than the document store shows up as a count
		// mismatch; rebuild rather than serve stale indexes.
		if err := coord.QuickCheck(ctx); err != nil {
			logger.Warn("snapshot out of date, rebuilding", "error", err)
			if err := coord.Rebuild(ctx); err != nil {
				a.close()
				return nil, fmt.Errorf("rebuild indexes: %w", err)
			}
		}
	}
	return a, nil
}

// saveSnapshot persists the index state after a mutation. Failure is
// logged, not fatal: the document store already holds the data and a
// rebuild can regenerate the indexes.
func (a *app) saveSnapshot(ctx context.Context) {
	if !a.cfg.Persist.Enabled {
		return
	}
	if err := a.snap.Save(ctx); err != nil {
		a.logger.Error("snapshot save failed", "error", err)
	}
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

// setupLogging routes structured logs to the log file so stdout
// stays clean for command output.
func setupLogging(cfg *config.Config) (*slog.Logger, func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}
