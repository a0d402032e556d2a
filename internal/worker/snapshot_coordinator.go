package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/solacelabs/tandem/internal/snapshot"
)

// SnapshotCapableStore represents a store that can write a consistent
// copy of itself to a file. Implemented by SQLiteStore.
type SnapshotCapableStore interface {
	SnapshotTo(ctx context.Context, path string) error
}

// SnapshotCoordinator periodically writes a database snapshot and
// uploads it to S3-compatible storage when configured.
type SnapshotCoordinator struct {
	store     SnapshotCapableStore
	uploader  snapshot.Uploader
	dir       string
	interval  time.Duration
	retryBase time.Duration
}

// NewSnapshotCoordinator creates a coordinator writing snapshots into
// dir at the given interval. The uploader may be a NoopUploader for
// local-only mode.
func NewSnapshotCoordinator(store SnapshotCapableStore, uploader snapshot.Uploader, dir string, interval time.Duration) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		store:     store,
		uploader:  uploader,
		dir:       dir,
		interval:  interval,
		retryBase: time.Second,
	}
}

// Run starts the coordinator loop.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.generate(ctx)
		}
	}
}

// generate writes one snapshot and uploads it. Upload failures are
// retried with backoff and are not fatal; the local snapshot remains
// valid either way.
func (c *SnapshotCoordinator) generate(ctx context.Context) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		slog.Error("snapshot directory creation failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}

	// VACUUM INTO refuses to overwrite, so write fresh and swap.
	tmpPath := filepath.Join(c.dir, "snapshot.tmp.db")
	finalPath := filepath.Join(c.dir, "current.db")
	os.Remove(tmpPath)

	if err := c.store.SnapshotTo(ctx, tmpPath); err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("snapshot generation failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		slog.Error("snapshot rename failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}

	slog.Info("snapshot generated",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "snapshot_complete",
		"path", finalPath,
	)

	backoff := retry.WithMaxRetries(3, retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.uploader.Upload(ctx, finalPath); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_upload_failed",
			"error", err,
		)
	}
}
