package companion

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/solacelabs/tandem/internal/store"
	"github.com/solacelabs/tandem/internal/types"
)

func entry(t *testing.T, seq int64, op store.Operation, card *types.NeedCard) store.ChangeEntry {
	t.Helper()
	e := store.ChangeEntry{Sequence: seq, Operation: op, CreatedAt: time.Now().UTC()}
	if card != nil {
		e.NeedID = card.ID
		payload, err := json.Marshal(card)
		if err != nil {
			t.Fatal(err)
		}
		e.Payload = payload
	}
	return e
}

func TestReplica_ApplyCreatePatchDelete(t *testing.T) {
	r := NewReplica()
	card := types.NeedCard{ID: "01CARD", Author: "Sylvie", Title: "t", Status: types.StatusShared}

	if _, err := r.Apply([]store.ChangeEntry{entry(t, 1, store.OpCreate, &card)}); err != nil {
		t.Fatal(err)
	}
	if got, ok := r.Get("01CARD"); !ok || got.Title != "t" {
		t.Fatalf("after create: %+v ok=%v", got, ok)
	}

	card.Status = types.StatusDiscussed
	if _, err := r.Apply([]store.ChangeEntry{entry(t, 2, store.OpPatch, &card)}); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Get("01CARD"); got.Status != types.StatusDiscussed {
		t.Errorf("after patch: %+v", got)
	}

	del := entry(t, 3, store.OpDelete, nil)
	del.NeedID = "01CARD"
	if _, err := r.Apply([]store.ChangeEntry{del}); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get("01CARD"); ok {
		t.Error("card survived delete")
	}
	if r.LastSequence() != 3 {
		t.Errorf("cursor = %d, want 3", r.LastSequence())
	}
}

func TestReplica_ReplayIsSkipped(t *testing.T) {
	r := NewReplica()
	card := types.NeedCard{ID: "01CARD", Author: "Sylvie"}
	page := []store.ChangeEntry{entry(t, 1, store.OpCreate, &card)}

	if _, err := r.Apply(page); err != nil {
		t.Fatal(err)
	}
	applied, err := r.Apply(page)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 0 {
		t.Errorf("replayed page applied %d entries", applied)
	}
}

func TestReplica_UnknownOperation(t *testing.T) {
	r := NewReplica()
	bad := store.ChangeEntry{Sequence: 1, Operation: "merge"}
	if _, err := r.Apply([]store.ChangeEntry{bad}); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestReplica_ListNewestFirst(t *testing.T) {
	r := NewReplica()
	old := types.NeedCard{ID: "01OLD", Timestamp: time.Now().Add(-time.Hour)}
	recent := types.NeedCard{ID: "01NEW", Timestamp: time.Now()}
	r.Echo(old, 0)
	r.Echo(recent, 0)

	cards := r.List()
	if len(cards) != 2 || cards[0].ID != "01NEW" {
		t.Errorf("cards = %+v", cards)
	}
}

func TestReplica_EchoAppliesWhenCurrent(t *testing.T) {
	r := NewReplica()
	card := types.NeedCard{ID: "01CARD", Author: "Sylvie", Status: types.StatusShared}
	if _, err := r.Apply([]store.ChangeEntry{entry(t, 1, store.OpCreate, &card)}); err != nil {
		t.Fatal(err)
	}

	seen := r.CardSequence("01CARD")
	ack := card
	ack.Status = types.StatusDiscussed
	if !r.Echo(ack, seen) {
		t.Fatal("echo rejected with no intervening feed delivery")
	}
	if got, _ := r.Get("01CARD"); got.Status != types.StatusDiscussed {
		t.Errorf("card = %+v", got)
	}
}

func TestReplica_StaleEchoDoesNotClobberNewerFeedState(t *testing.T) {
	r := NewReplica()
	card := types.NeedCard{ID: "01CARD", Author: "Sylvie", Status: types.StatusShared}
	if _, err := r.Apply([]store.ChangeEntry{entry(t, 1, store.OpCreate, &card)}); err != nil {
		t.Fatal(err)
	}

	// Capture the sequence as cardOp would before its round-trip, then let
	// the watch feed deliver the partner's newer version of the card.
	seen := r.CardSequence("01CARD")
	newer := card
	newer.Status = types.StatusDiscussed
	if _, err := r.Apply([]store.ChangeEntry{entry(t, 2, store.OpPatch, &newer)}); err != nil {
		t.Fatal(err)
	}

	stale := card
	if r.Echo(stale, seen) {
		t.Error("stale echo applied over newer feed state")
	}
	if got, _ := r.Get("01CARD"); got.Status != types.StatusDiscussed {
		t.Errorf("card = %+v, want discussed", got)
	}
}
