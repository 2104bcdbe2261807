package persist

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Rebuilder regenerates the indexes from the document store when no
// usable snapshot exists.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Runner periodically saves snapshots in the background and performs
// a final save on shutdown.
type Runner struct {
	snap     *Snapshotter
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
}

// NewRunner creates a background snapshot runner. Interval must be
// positive.
func NewRunner(snap *Snapshotter, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		snap:     snap,
		interval: interval,
		logger:   logger.With("component", "persist"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins periodic snapshotting. Non-blocking; repeated calls
// are no-ops.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.snap.Save(ctx); err != nil {
				r.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-r.stopCh:
			// Final save so a clean shutdown never loses index state.
			if err := r.snap.Save(context.WithoutCancel(ctx)); err != nil {
				r.logger.Error("shutdown snapshot failed", "error", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the runner to perform a final save and waits for it to
// finish. Safe to call without a prior Start.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// IsRunning reports whether the background loop is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LoadOrRebuild restores the indexes from the snapshot when one
// exists, falling back to a full rebuild when the snapshot is absent
// or corrupt. A rebuild error is fatal; a corrupt snapshot is not.
func LoadOrRebuild(ctx context.Context, snap *Snapshotter, rebuilder Rebuilder, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	_, err := snap.Load()
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no snapshot found, rebuilding indexes from document store")
	} else {
		logger.Warn("snapshot unusable, rebuilding indexes from document store", "error", err)
	}
	if err := rebuilder.Rebuild(ctx); err != nil {
		return err
	}
	return snap.Save(ctx)
}
