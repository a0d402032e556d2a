package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solacelabs/tandem/internal/store"
	"github.com/solacelabs/tandem/internal/types"
)

type fakeReminderSource struct {
	mu    sync.Mutex
	hits  []store.ReminderHit
	err   error
	calls int
}

func (f *fakeReminderSource) DueReminders(_ context.Context, _ time.Time) ([]store.ReminderHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeReminderSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestReminderCoordinator_ScanPublishesHits(t *testing.T) {
	src := &fakeReminderSource{
		hits: []store.ReminderHit{
			{NeedID: "n1", NeedTitle: "t", Plan: types.ActionPlan{ID: "p1", Text: "ranger", Author: "Wissam"}},
		},
	}
	c := NewReminderCoordinator(src, time.Hour)

	c.scan(context.Background())

	due := c.Due()
	if len(due) != 1 || due[0].Plan.ID != "p1" {
		t.Fatalf("due = %+v", due)
	}
}

func TestReminderCoordinator_EmptyScanServesEmptySlice(t *testing.T) {
	c := NewReminderCoordinator(&fakeReminderSource{}, time.Hour)

	if c.Due() == nil {
		t.Error("Due() before any scan returned nil")
	}

	// A zero-hit scan must keep serving [], not null, so the JSON
	// encoding of the due list stays an array.
	c.scan(context.Background())
	if c.Due() == nil {
		t.Error("Due() after a zero-hit scan returned nil")
	}
}

func TestReminderCoordinator_ScanErrorKeepsPrevious(t *testing.T) {
	src := &fakeReminderSource{
		hits: []store.ReminderHit{{NeedID: "n1"}},
	}
	c := NewReminderCoordinator(src, time.Hour)
	c.scan(context.Background())

	src.mu.Lock()
	src.err = errors.New("db closed")
	src.mu.Unlock()
	c.scan(context.Background())

	if len(c.Due()) != 1 {
		t.Error("failed scan should not clear published hits")
	}
}

func TestReminderCoordinator_RunScansOnStartAndStops(t *testing.T) {
	src := &fakeReminderSource{}
	c := NewReminderCoordinator(src, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// The initial scan happens before the first tick.
	deadline := time.After(2 * time.Second)
	for src.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no initial scan")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop on cancel")
	}
}
