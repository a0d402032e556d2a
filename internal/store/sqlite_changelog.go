package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/solacelabs/tandem/internal/types"
)

const insertChangeSQL = `
	INSERT INTO change_log (operation, need_id, payload, created_at)
	VALUES (?, ?, ?, ?)`

// appendChange records a create/patch change carrying the full document.
func appendChange(ctx context.Context, tx *sql.Tx, op Operation, card *types.NeedCard) (ChangeEntry, error) {
	payload, err := json.Marshal(card)
	if err != nil {
		return ChangeEntry{}, fmt.Errorf("marshal change payload: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, insertChangeSQL,
		string(op), card.ID, string(payload), now.Format(time.RFC3339Nano))
	if err != nil {
		return ChangeEntry{}, fmt.Errorf("append change log: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return ChangeEntry{}, fmt.Errorf("get change sequence: %w", err)
	}

	return ChangeEntry{
		Sequence:  seq,
		Operation: op,
		NeedID:    card.ID,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// appendDeleteChange records a deletion. Deletes carry no payload.
func appendDeleteChange(ctx context.Context, tx *sql.Tx, needID string) (ChangeEntry, error) {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, insertChangeSQL,
		string(OpDelete), needID, nil, now.Format(time.RFC3339Nano))
	if err != nil {
		return ChangeEntry{}, fmt.Errorf("append change log: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return ChangeEntry{}, fmt.Errorf("get change sequence: %w", err)
	}

	return ChangeEntry{
		Sequence:  seq,
		Operation: OpDelete,
		NeedID:    needID,
		CreatedAt: now,
	}, nil
}

// ChangesSince returns entries with sequence > afterSeq, up to limit.
// Subscribers use this to resume after a dropped connection.
func (s *SQLiteStore) ChangesSince(ctx context.Context, afterSeq int64, limit int) ([]ChangeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, operation, need_id, payload, created_at
		FROM change_log
		WHERE sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	entries := make([]ChangeEntry, 0)
	for rows.Next() {
		var e ChangeEntry
		var op, createdAt string
		var payload sql.NullString

		if err := rows.Scan(&e.Sequence, &op, &e.NeedID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan change entry: %w", err)
		}
		e.Operation = Operation(op)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse change created_at %q: %w", createdAt, err)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LatestSequence returns the highest sequence number in the change log.
// Returns 0 if the change log is empty.
func (s *SQLiteStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(sequence) FROM change_log").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get latest sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Subscription is a live push feed of change entries. A subscriber that
// falls behind its buffer misses entries; it should resume with
// ChangesSince from the last sequence it processed.
type Subscription struct {
	C <-chan ChangeEntry

	w    *watcher
	ch   chan ChangeEntry
	once sync.Once
}

// Close unregisters the subscription and closes its channel.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.w.remove(sub)
		close(sub.ch)
	})
}

// Subscribe registers a push subscription with the given channel buffer.
func (s *SQLiteStore) Subscribe(buffer int) *Subscription {
	return s.watcher.subscribe(buffer)
}

// watcher fans change entries out to in-process subscribers.
type watcher struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newWatcher() *watcher {
	return &watcher{subs: make(map[*Subscription]struct{})}
}

func (w *watcher) subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan ChangeEntry, buffer)
	sub := &Subscription{C: ch, ch: ch, w: w}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		close(ch)
		return sub
	}
	w.subs[sub] = struct{}{}
	return sub
}

func (w *watcher) remove(sub *Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, sub)
}

// notify delivers an entry to every subscriber without blocking writers.
// A full subscriber buffer drops the entry; the sequence gap tells the
// subscriber to catch up via ChangesSince.
func (w *watcher) notify(entry ChangeEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for sub := range w.subs {
		select {
		case sub.ch <- entry:
		default:
		}
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	subs := make([]*Subscription, 0, len(w.subs))
	for sub := range w.subs {
		subs = append(subs, sub)
	}
	w.mu.Unlock()

	// Close outside the lock; Subscription.Close re-enters remove().
	for _, sub := range subs {
		sub.Close()
	}
}
