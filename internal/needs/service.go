// Package needs implements the interactions on shared cards: opening
// them (with the two read-triggered seen flags), responding with action
// plans, managing plans and reminders, and cancelling.
package needs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/solacelabs/tandem/internal/types"
)

var (
	// ErrNotAuthor guards author-only operations.
	ErrNotAuthor = errors.New("needs: only the author may do this")

	// ErrAuthorCannotRespond guards the respond flow, which belongs to
	// the partner.
	ErrAuthorCannotRespond = errors.New("needs: the author cannot respond to their own need")

	// ErrPlanNotFound marks an unknown action plan id.
	ErrPlanNotFound = errors.New("needs: action plan not found")

	// ErrInvalidReminderOffset rejects offsets outside the fixed choices.
	ErrInvalidReminderOffset = errors.New("needs: reminder offset must be 3, 7, 14 or 30 days")
)

// The reminder choices offered when committing to an action plan.
var reminderOffsets = map[int]bool{3: true, 7: true, 14: true, 30: true}

// cardStore is the slice of the store this service needs.
type cardStore interface {
	GetNeed(ctx context.Context, id string) (*types.NeedCard, error)
	PatchNeed(ctx context.Context, id string, patch types.NeedPatch) (*types.NeedCard, error)
	DeleteNeed(ctx context.Context, id string) error
}

// Service mutates shared cards on behalf of a couple member. Action
// plan writes always re-read the latest plan array before patching, so
// a concurrent partner edit to another field is never clobbered.
type Service struct {
	store  cardStore
	couple types.Couple
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the card interaction service.
func NewService(s cardStore, couple types.Couple, logger *slog.Logger) *Service {
	return &Service{
		store:  s,
		couple: couple,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open returns the card and applies the read-triggered flag for the
// viewer: the partner's first open sets seenByPartner, the author's
// first open after a response sets authorHasSeenUpdate. Both are
// idempotent.
func (s *Service) Open(ctx context.Context, id string, viewer types.Member) (*types.NeedCard, error) {
	if !s.couple.Contains(viewer) {
		return nil, fmt.Errorf("needs: unknown member %q", viewer)
	}
	card, err := s.store.GetNeed(ctx, id)
	if err != nil {
		return nil, err
	}

	var patch types.NeedPatch
	if viewer != card.Author && !card.SeenByPartner {
		t := true
		patch.SeenByPartner = &t
	}
	if viewer == card.Author && card.Status == types.StatusDiscussed && !card.AuthorHasSeenUpdate {
		t := true
		patch.AuthorHasSeenUpdate = &t
	}
	if patch.IsZero() {
		return card, nil
	}
	return s.store.PatchNeed(ctx, id, patch)
}

// Respond adds the partner's action plans and moves the card to
// discussed. The author's unseen-update flag is re-armed so the new
// response surfaces as a notification.
func (s *Service) Respond(ctx context.Context, id string, responder types.Member, planTexts []string) (*types.NeedCard, error) {
	if !s.couple.Contains(responder) {
		return nil, fmt.Errorf("needs: unknown member %q", responder)
	}
	if len(planTexts) == 0 {
		return nil, fmt.Errorf("needs: a response requires at least one action plan")
	}

	card, err := s.store.GetNeed(ctx, id)
	if err != nil {
		return nil, err
	}
	if responder == card.Author {
		return nil, ErrAuthorCannotRespond
	}

	plans := append([]types.ActionPlan(nil), card.ActionPlans...)
	for _, text := range planTexts {
		plans = append(plans, types.ActionPlan{
			ID:     ulid.Make().String(),
			Text:   text,
			Author: responder,
		})
	}

	status := types.StatusDiscussed
	unseen := false
	return s.store.PatchNeed(ctx, id, types.NeedPatch{
		ActionPlans:         &plans,
		Status:              &status,
		AuthorHasSeenUpdate: &unseen,
	})
}

// ToggleAction flips an action plan's completion state.
func (s *Service) ToggleAction(ctx context.Context, id, planID string) (*types.NeedCard, error) {
	return s.rewritePlans(ctx, id, planID, func(p *types.ActionPlan) {
		p.IsCompleted = !p.IsCompleted
	})
}

// SetReminder schedules a reminder for an action plan at one of the
// fixed offsets from now.
func (s *Service) SetReminder(ctx context.Context, id, planID string, offsetDays int) (*types.NeedCard, error) {
	if !reminderOffsets[offsetDays] {
		return nil, ErrInvalidReminderOffset
	}
	due := s.now().AddDate(0, 0, offsetDays)
	return s.rewritePlans(ctx, id, planID, func(p *types.ActionPlan) {
		p.ReminderDate = &due
	})
}

// ClearReminder removes an action plan's reminder.
func (s *Service) ClearReminder(ctx context.Context, id, planID string) (*types.NeedCard, error) {
	return s.rewritePlans(ctx, id, planID, func(p *types.ActionPlan) {
		p.ReminderDate = nil
	})
}

// RemoveAction deletes an action plan from the card.
func (s *Service) RemoveAction(ctx context.Context, id, planID string) (*types.NeedCard, error) {
	card, err := s.store.GetNeed(ctx, id)
	if err != nil {
		return nil, err
	}

	plans := make([]types.ActionPlan, 0, len(card.ActionPlans))
	found := false
	for _, p := range card.ActionPlans {
		if p.ID == planID {
			found = true
			continue
		}
		plans = append(plans, p)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return s.store.PatchNeed(ctx, id, types.NeedPatch{ActionPlans: &plans})
}

// Cancel deletes the card. Only its author may do so.
func (s *Service) Cancel(ctx context.Context, id string, viewer types.Member) error {
	card, err := s.store.GetNeed(ctx, id)
	if err != nil {
		return err
	}
	if viewer != card.Author {
		return ErrNotAuthor
	}
	if err := s.store.DeleteNeed(ctx, id); err != nil {
		return err
	}
	s.logger.Info("need cancelled", "need_id", id, "author", viewer)
	return nil
}

// rewritePlans reads the latest plan array, applies mutate to the
// matching plan, and writes the whole array back.
func (s *Service) rewritePlans(ctx context.Context, id, planID string, mutate func(*types.ActionPlan)) (*types.NeedCard, error) {
	card, err := s.store.GetNeed(ctx, id)
	if err != nil {
		return nil, err
	}

	plans := append([]types.ActionPlan(nil), card.ActionPlans...)
	found := false
	for i := range plans {
		if plans[i].ID == planID {
			mutate(&plans[i])
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return s.store.PatchNeed(ctx, id, types.NeedPatch{ActionPlans: &plans})
}
