package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/solacelabs/tandem/internal/types"
)

// Operation is the kind of change recorded in the change log.
type Operation string

const (
	OpCreate Operation = "create"
	OpPatch  Operation = "patch"
	OpDelete Operation = "delete"
)

// ChangeEntry is one entry in the needs change log. Payload carries the
// full document after the change (nil for deletes), so subscribers can
// rebuild their local replica without extra reads.
type ChangeEntry struct {
	Sequence  int64           `json:"sequence"`
	Operation Operation       `json:"operation"`
	NeedID    string          `json:"need_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReminderHit is a due action-plan reminder found by the reminder scan.
type ReminderHit struct {
	NeedID    string
	NeedTitle string
	Plan      types.ActionPlan
}

// Store defines the interface contract for the shared needs collection.
// It behaves as a passive document store: field-granular patches with
// last-writer-wins, plus a change feed for push subscriptions.
type Store interface {
	CreateNeed(ctx context.Context, n types.NewNeedCard) (*types.NeedCard, error)
	GetNeed(ctx context.Context, id string) (*types.NeedCard, error)
	ListNeeds(ctx context.Context) ([]types.NeedCard, error)
	PatchNeed(ctx context.Context, id string, patch types.NeedPatch) (*types.NeedCard, error)
	DeleteNeed(ctx context.Context, id string) error
	CountNeeds(ctx context.Context) (int64, error)

	ChangesSince(ctx context.Context, afterSeq int64, limit int) ([]ChangeEntry, error)
	LatestSequence(ctx context.Context) (int64, error)
	Subscribe(buffer int) *Subscription

	DueReminders(ctx context.Context, now time.Time) ([]ReminderHit, error)
	SnapshotTo(ctx context.Context, path string) error

	Close() error
}
