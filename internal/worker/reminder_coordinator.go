// Package worker contains the background coordinators: the periodic
// reminder scan and the database snapshot loop.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/solacelabs/tandem/internal/store"
)

// ReminderSource provides the due-reminder scan. Implemented by
// SQLiteStore.
type ReminderSource interface {
	DueReminders(ctx context.Context, now time.Time) ([]store.ReminderHit, error)
}

// ReminderCoordinator periodically scans for action plans whose
// reminder date has passed and publishes them for the API to serve.
type ReminderCoordinator struct {
	source   ReminderSource
	interval time.Duration

	mu  sync.RWMutex
	due []store.ReminderHit
}

// NewReminderCoordinator creates a coordinator scanning at the given
// interval.
func NewReminderCoordinator(source ReminderSource, interval time.Duration) *ReminderCoordinator {
	return &ReminderCoordinator{
		source:   source,
		interval: interval,
		due:      []store.ReminderHit{},
	}
}

// Due returns the hits found by the most recent scan. The result is
// never nil, so an empty scan serves as [] rather than null.
func (c *ReminderCoordinator) Due() []store.ReminderHit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.ReminderHit, len(c.due))
	copy(out, c.due)
	return out
}

// Run starts the coordinator loop.
func (c *ReminderCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "reminder-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Scan immediately on start
	c.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "reminder-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.scan(ctx)
		}
	}
}

func (c *ReminderCoordinator) scan(ctx context.Context) {
	hits, err := c.source.DueReminders(ctx, time.Now().UTC())
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		slog.Error("reminder scan failed",
			"component", "worker",
			"worker", "reminder-coordinator",
			"action", "scan_failed",
			"error", err,
		)
		return
	}

	if hits == nil {
		hits = []store.ReminderHit{}
	}

	c.mu.Lock()
	previous := len(c.due)
	c.due = hits
	c.mu.Unlock()

	if len(hits) > 0 && len(hits) != previous {
		slog.Info("reminders due",
			"component", "worker",
			"worker", "reminder-coordinator",
			"action", "reminders_due",
			"count", len(hits),
		)
	}
}
