package companion

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/solacelabs/tandem/internal/store"
	"github.com/solacelabs/tandem/internal/types"
)

// Replica is an in-memory copy of the shared needs collection, rebuilt
// from the server's change feed. Change entries carry the full document
// after each change, so applying them never requires extra reads.
type Replica struct {
	mu      sync.RWMutex
	cards   map[string]types.NeedCard
	seqs    map[string]int64
	lastSeq int64
}

// NewReplica creates an empty replica.
func NewReplica() *Replica {
	return &Replica{
		cards: make(map[string]types.NeedCard),
		seqs:  make(map[string]int64),
	}
}

// Apply folds change entries into the replica. Entries at or below the
// replica's cursor are skipped, so replayed pages are harmless.
func (r *Replica) Apply(entries []store.ChangeEntry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0
	for _, entry := range entries {
		if entry.Sequence <= r.lastSeq {
			continue
		}
		switch entry.Operation {
		case store.OpCreate, store.OpPatch:
			var card types.NeedCard
			if err := json.Unmarshal(entry.Payload, &card); err != nil {
				return applied, fmt.Errorf("decode change %d payload: %w", entry.Sequence, err)
			}
			r.cards[card.ID] = card
			r.seqs[card.ID] = entry.Sequence
		case store.OpDelete:
			delete(r.cards, entry.NeedID)
			r.seqs[entry.NeedID] = entry.Sequence
		default:
			return applied, fmt.Errorf("unknown change operation %q", entry.Operation)
		}
		r.lastSeq = entry.Sequence
		applied++
	}
	return applied, nil
}

// CardSequence returns the change-feed sequence at which the replica
// last saw the card (zero if never).
func (r *Replica) CardSequence(id string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seqs[id]
}

// Echo upserts a card as the local echo of a write the server has
// already acknowledged. seenSeq is the card's sequence as observed
// before the write; the echo is dropped when the feed has delivered a
// newer version of the card in the meantime, so the most recent write
// by sequence wins, not arrival order. Returns whether the echo was
// applied.
func (r *Replica) Echo(card types.NeedCard, seenSeq int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seqs[card.ID] != seenSeq {
		return false
	}
	r.cards[card.ID] = card
	return true
}

// Remove drops a card directly after an acknowledged cancel.
func (r *Replica) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cards, id)
}

// Get returns a card by ID.
func (r *Replica) Get(id string) (types.NeedCard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[id]
	return card, ok
}

// List returns all cards, newest first.
func (r *Replica) List() []types.NeedCard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cards := make([]types.NeedCard, 0, len(r.cards))
	for _, card := range r.cards {
		cards = append(cards, card)
	}
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].Timestamp.After(cards[j].Timestamp)
	})
	return cards
}

// LastSequence returns the replica's change-feed cursor.
func (r *Replica) LastSequence() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeq
}

// Len returns the number of cards in the replica.
func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cards)
}
