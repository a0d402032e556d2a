package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/solacelabs/tandem/internal/types"
)

// SQLiteStore represents the SQLite-backed needs collection.
type SQLiteStore struct {
	db      *sql.DB
	watcher *watcher
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, watcher: newWatcher()}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection and drops all subscriptions.
func (s *SQLiteStore) Close() error {
	s.watcher.close()
	return s.db.Close()
}

// CreateNeed inserts a new need, assigns its id and timestamp, and
// records the creation in the change log.
func (s *SQLiteStore) CreateNeed(ctx context.Context, n types.NewNeedCard) (*types.NeedCard, error) {
	now := time.Now().UTC()
	card := types.NeedCard{
		ID:                  ulid.Make().String(),
		Author:              n.Author,
		Title:               n.Title,
		OriginalAnnoyance:   n.OriginalAnnoyance,
		TranslatedNeed:      n.TranslatedNeed,
		Validation:          n.Validation,
		ActionPlans:         n.ActionPlans,
		Timestamp:           now,
		Status:              n.Status,
		SeenByPartner:       n.SeenByPartner,
		AuthorHasSeenUpdate: n.AuthorHasSeenUpdate,
	}
	if card.ActionPlans == nil {
		card.ActionPlans = []types.ActionPlan{}
	}
	if card.Status == "" {
		card.Status = types.StatusShared
	}

	plans, err := json.Marshal(card.ActionPlans)
	if err != nil {
		return nil, fmt.Errorf("marshal action plans: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO needs (id, author, title, original_annoyance, translated_need, validation, action_plans, timestamp, status, seen_by_partner, author_has_seen_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, card.ID, string(card.Author), card.Title, card.OriginalAnnoyance, card.TranslatedNeed,
		card.Validation, string(plans), card.Timestamp.Format(time.RFC3339Nano),
		string(card.Status), boolToInt(card.SeenByPartner), boolToInt(card.AuthorHasSeenUpdate))
	if err != nil {
		return nil, fmt.Errorf("insert need: %w", err)
	}

	entry, err := appendChange(ctx, tx, OpCreate, &card)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.watcher.notify(entry)
	return &card, nil
}

// GetNeed returns the need with the given id, or ErrNotFound.
func (s *SQLiteStore) GetNeed(ctx context.Context, id string) (*types.NeedCard, error) {
	row := s.db.QueryRowContext(ctx, selectNeedSQL+" WHERE id = ?", id)
	card, err := scanNeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ListNeeds returns all needs ordered by timestamp descending.
func (s *SQLiteStore) ListNeeds(ctx context.Context) ([]types.NeedCard, error) {
	rows, err := s.db.QueryContext(ctx, selectNeedSQL+" ORDER BY timestamp DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("query needs: %w", err)
	}
	defer rows.Close()

	needs := make([]types.NeedCard, 0)
	for rows.Next() {
		card, err := scanNeed(rows)
		if err != nil {
			return nil, err
		}
		needs = append(needs, *card)
	}
	return needs, rows.Err()
}

// PatchNeed applies a partial update at field granularity and records
// the resulting document in the change log. Fields not set in the patch
// keep their stored values; concurrent patches to different fields do
// not clobber each other.
func (s *SQLiteStore) PatchNeed(ctx context.Context, id string, patch types.NeedPatch) (*types.NeedCard, error) {
	if patch.IsZero() {
		return nil, ErrEmptyPatch
	}

	var sets []string
	var args []any
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.ActionPlans != nil {
		plans, err := json.Marshal(*patch.ActionPlans)
		if err != nil {
			return nil, fmt.Errorf("marshal action plans: %w", err)
		}
		sets = append(sets, "action_plans = ?")
		args = append(args, string(plans))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.SeenByPartner != nil {
		sets = append(sets, "seen_by_partner = ?")
		args = append(args, boolToInt(*patch.SeenByPartner))
	}
	if patch.AuthorHasSeenUpdate != nil {
		sets = append(sets, "author_has_seen_update = ?")
		args = append(args, boolToInt(*patch.AuthorHasSeenUpdate))
	}
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE needs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("patch need: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	row := tx.QueryRowContext(ctx, selectNeedSQL+" WHERE id = ?", id)
	card, err := scanNeed(row)
	if err != nil {
		return nil, err
	}

	entry, err := appendChange(ctx, tx, OpPatch, card)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.watcher.notify(entry)
	return card, nil
}

// DeleteNeed removes the need and records the deletion.
func (s *SQLiteStore) DeleteNeed(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM needs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete need: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	entry, err := appendDeleteChange(ctx, tx, id)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.watcher.notify(entry)
	return nil
}

// CountNeeds returns the number of needs in the collection.
func (s *SQLiteStore) CountNeeds(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM needs").Scan(&count)
	return count, err
}

// DueReminders returns every action plan whose reminder date has passed
// and which is not yet completed. The two-user collection is small, so
// the scan loads all needs and filters in memory.
func (s *SQLiteStore) DueReminders(ctx context.Context, now time.Time) ([]ReminderHit, error) {
	needs, err := s.ListNeeds(ctx)
	if err != nil {
		return nil, err
	}

	var hits []ReminderHit
	for _, n := range needs {
		for _, plan := range n.ActionPlans {
			if plan.IsCompleted || plan.ReminderDate == nil {
				continue
			}
			if plan.ReminderDate.After(now) {
				continue
			}
			hits = append(hits, ReminderHit{NeedID: n.ID, NeedTitle: n.Title, Plan: plan})
		}
	}
	return hits, nil
}

// SnapshotTo writes a consistent copy of the database to path using
// VACUUM INTO, safe to run while the store is live.
func (s *SQLiteStore) SnapshotTo(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}
	return nil
}

const selectNeedSQL = `
	SELECT id, author, title, original_annoyance, translated_need, validation, action_plans, timestamp, status, seen_by_partner, author_has_seen_update
	FROM needs`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNeed scans one needs row. Legacy action plans that were stored
// without an id are back-filled with a fresh ULID so every plan is
// individually addressable.
func scanNeed(row rowScanner) (*types.NeedCard, error) {
	var card types.NeedCard
	var author, status, timestamp, plans string
	var seen, authorSeen int

	err := row.Scan(&card.ID, &author, &card.Title, &card.OriginalAnnoyance,
		&card.TranslatedNeed, &card.Validation, &plans, &timestamp,
		&status, &seen, &authorSeen)
	if err != nil {
		return nil, err
	}

	card.Author = types.Member(author)
	card.Status = types.NeedStatus(status)
	card.SeenByPartner = seen != 0
	card.AuthorHasSeenUpdate = authorSeen != 0

	if card.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", timestamp, err)
	}

	if err := json.Unmarshal([]byte(plans), &card.ActionPlans); err != nil {
		return nil, fmt.Errorf("unmarshal action plans: %w", err)
	}
	if card.ActionPlans == nil {
		card.ActionPlans = []types.ActionPlan{}
	}
	for i := range card.ActionPlans {
		if card.ActionPlans[i].ID == "" {
			card.ActionPlans[i].ID = ulid.Make().String()
		}
	}

	return &card, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
