package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/solacelabs/tandem/internal/types"
)

func TestChangeLog_CreatePatchDeleteSequence(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	created, err := db.CreateNeed(ctx, newNeed("Sylvie"))
	if err != nil {
		t.Fatal(err)
	}
	seen := true
	if _, err := db.PatchNeed(ctx, created.ID, types.NeedPatch{SeenByPartner: &seen}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteNeed(ctx, created.ID); err != nil {
		t.Fatal(err)
	}

	entries, err := db.ChangesSince(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 change entries, got %d", len(entries))
	}

	wantOps := []Operation{OpCreate, OpPatch, OpDelete}
	for i, e := range entries {
		if e.Operation != wantOps[i] {
			t.Errorf("entry %d operation = %q, want %q", i, e.Operation, wantOps[i])
		}
		if e.NeedID != created.ID {
			t.Errorf("entry %d need id = %q, want %q", i, e.NeedID, created.ID)
		}
		if i > 0 && e.Sequence <= entries[i-1].Sequence {
			t.Errorf("sequences not strictly increasing: %d after %d", e.Sequence, entries[i-1].Sequence)
		}
	}

	// Create/patch carry the full document; delete carries none.
	var doc types.NeedCard
	if err := json.Unmarshal(entries[1].Payload, &doc); err != nil {
		t.Fatalf("unmarshal patch payload: %v", err)
	}
	if !doc.SeenByPartner {
		t.Error("patch payload should reflect the patched document")
	}
	if entries[2].Payload != nil {
		t.Error("delete entry should carry no payload")
	}
}

func TestChangeLog_ChangesSince_Resume(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	if _, err := db.CreateNeed(ctx, newNeed("Sylvie")); err != nil {
		t.Fatal(err)
	}
	mark, err := db.LatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.CreateNeed(ctx, newNeed("Wissam"))
	if err != nil {
		t.Fatal(err)
	}

	entries, err := db.ChangesSince(ctx, mark, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after mark, got %d", len(entries))
	}
	if entries[0].NeedID != second.ID {
		t.Errorf("resumed at wrong entry: %s", entries[0].NeedID)
	}
}

func TestChangeLog_LatestSequence_Empty(t *testing.T) {
	db := newTestStore(t)

	seq, err := db.LatestSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Errorf("empty change log sequence = %d, want 0", seq)
	}
}

func TestSubscribe_ReceivesPushedChanges(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	sub := db.Subscribe(8)
	defer sub.Close()

	created, err := db.CreateNeed(ctx, newNeed("Sylvie"))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case entry := <-sub.C:
		if entry.Operation != OpCreate || entry.NeedID != created.ID {
			t.Errorf("unexpected entry: %+v", entry)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed change")
	}
}

func TestSubscribe_CloseIsIdempotent(t *testing.T) {
	db := newTestStore(t)

	sub := db.Subscribe(1)
	sub.Close()
	sub.Close()

	// Writes after close must not panic on the closed channel.
	if _, err := db.CreateNeed(context.Background(), newNeed("Sylvie")); err != nil {
		t.Fatal(err)
	}
}

func TestSubscribe_SlowSubscriberDropsNotBlocks(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()

	sub := db.Subscribe(1)
	defer sub.Close()

	// Two creates against a buffer of one: the second notification is
	// dropped, the writer must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2; i++ {
			if _, err := db.CreateNeed(ctx, newNeed("Sylvie")); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked on slow subscriber")
	}

	// The gap is recoverable through ChangesSince.
	entries, err := db.ChangesSince(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected both changes in the log, got %d", len(entries))
	}
}
