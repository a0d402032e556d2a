package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solacelabs/tandem/internal/dashboard"
	"github.com/solacelabs/tandem/internal/needs"
	"github.com/solacelabs/tandem/internal/snapshot"
	"github.com/solacelabs/tandem/internal/store"
	"github.com/solacelabs/tandem/internal/types"
	"github.com/solacelabs/tandem/internal/validation"
	"github.com/solacelabs/tandem/internal/wizard"
	"github.com/solacelabs/tandem/internal/worker"
)

const (
	// DefaultDeltaLimit is the change-feed page size when unspecified.
	DefaultDeltaLimit = 500

	// MaxDeltaLimit caps a single change-feed page.
	MaxDeltaLimit = 1000

	// DefaultWatchTimeout bounds a long-poll watch request.
	DefaultWatchTimeout = 30 * time.Second
)

// Handler implements the API handlers
type Handler struct {
	store     store.Store
	needs     *needs.Service
	wizards   *wizard.Manager
	couple    types.Couple
	reminders *worker.ReminderCoordinator
	uploader  snapshot.Uploader
	apiKey    string
	version   string
	model     string
}

// NewHandler creates a new Handler.
func NewHandler(
	s store.Store,
	n *needs.Service,
	w *wizard.Manager,
	couple types.Couple,
	reminders *worker.ReminderCoordinator,
	uploader snapshot.Uploader,
	apiKey, version, model string,
) *Handler {
	return &Handler{
		store:     s,
		needs:     n,
		wizards:   w,
		couple:    couple,
		reminders: reminders,
		uploader:  uploader,
		apiKey:    apiKey,
		version:   version,
		model:     model,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountNeeds(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, types.HealthResponse{
		Status:          "healthy",
		Version:         h.version,
		GenerationModel: h.model,
		NeedCount:       count,
	})
}

// ListNeeds handles GET /api/v1/needs
func (h *Handler) ListNeeds(w http.ResponseWriter, r *http.Request) {
	cards, err := h.store.ListNeeds(r.Context())
	if err != nil {
		slog.Error("list needs failed", "error", err)
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, struct {
		Needs []types.NeedCard `json:"needs"`
	}{Needs: cards})
}

// OpenNeed handles GET /api/v1/needs/{id}. Opening applies the
// read-triggered seen flags for the viewer.
func (h *Handler) OpenNeed(w http.ResponseWriter, r *http.Request) {
	viewer := MustMemberFromContext(r.Context())
	card, err := h.needs.Open(r.Context(), chi.URLParam(r, "id"), viewer)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, card)
}

// CancelNeed handles DELETE /api/v1/needs/{id}
func (h *Handler) CancelNeed(w http.ResponseWriter, r *http.Request) {
	viewer := MustMemberFromContext(r.Context())
	if err := h.needs.Cancel(r.Context(), chi.URLParam(r, "id"), viewer); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type respondRequest struct {
	Plans []string `json:"plans"`
}

// Respond handles POST /api/v1/needs/{id}/respond
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	viewer := MustMemberFromContext(r.Context())

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	for i, text := range req.Plans {
		validation.ValidateText(&c, fmt.Sprintf("plans[%d]", i), text, validation.MaxActionPlanLength)
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	card, err := h.needs.Respond(r.Context(), chi.URLParam(r, "id"), viewer, req.Plans)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, card)
}

// planIDParam extracts and validates the {planID} URL parameter. Plan
// IDs are ULIDs minted by the service, so a malformed one cannot name
// an existing plan and is rejected before any store lookup.
func planIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	planID := chi.URLParam(r, "planID")
	if verr := validation.ValidateULID("planID", planID); verr != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*verr})
		return "", false
	}
	return planID, true
}

// ToggleAction handles POST /api/v1/needs/{id}/plans/{planID}/toggle
func (h *Handler) ToggleAction(w http.ResponseWriter, r *http.Request) {
	planID, ok := planIDParam(w, r)
	if !ok {
		return
	}
	card, err := h.needs.ToggleAction(r.Context(), chi.URLParam(r, "id"), planID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, card)
}

type reminderRequest struct {
	Days int `json:"days"`
}

// SetReminder handles PUT /api/v1/needs/{id}/plans/{planID}/reminder
func (h *Handler) SetReminder(w http.ResponseWriter, r *http.Request) {
	planID, ok := planIDParam(w, r)
	if !ok {
		return
	}

	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	card, err := h.needs.SetReminder(r.Context(), chi.URLParam(r, "id"), planID, req.Days)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, card)
}

// ClearReminder handles DELETE /api/v1/needs/{id}/plans/{planID}/reminder
func (h *Handler) ClearReminder(w http.ResponseWriter, r *http.Request) {
	planID, ok := planIDParam(w, r)
	if !ok {
		return
	}
	card, err := h.needs.ClearReminder(r.Context(), chi.URLParam(r, "id"), planID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, card)
}

// RemoveAction handles DELETE /api/v1/needs/{id}/plans/{planID}
func (h *Handler) RemoveAction(w http.ResponseWriter, r *http.Request) {
	planID, ok := planIDParam(w, r)
	if !ok {
		return
	}
	card, err := h.needs.RemoveAction(r.Context(), chi.URLParam(r, "id"), planID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, card)
}

// DashboardResponse aggregates the viewer's read-side views.
type DashboardResponse struct {
	Mine          []types.NeedCard       `json:"mine"`
	Partners      []types.NeedCard       `json:"partners"`
	Notifications int                    `json:"notifications"`
	ActionItems   []dashboard.ActionItem `json:"actionItems"`
}

// Dashboard handles GET /api/v1/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	viewer := MustMemberFromContext(r.Context())
	cards, err := h.store.ListNeeds(r.Context())
	if err != nil {
		slog.Error("dashboard query failed", "error", err)
		MapDomainError(w, r, err)
		return
	}

	partition := dashboard.PartitionByAuthor(cards, viewer)
	writeJSON(w, DashboardResponse{
		Mine:          partition.Mine,
		Partners:      partition.Partners,
		Notifications: dashboard.NotificationCount(cards, viewer),
		ActionItems:   dashboard.ActionItems(cards, viewer),
	})
}

// Activity handles GET /api/v1/dashboard/activity
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	granularity := dashboard.Granularity(r.URL.Query().Get("granularity"))
	if granularity == "" {
		granularity = dashboard.Weekly
	}
	if granularity != dashboard.Weekly && granularity != dashboard.Monthly {
		WriteProblem(w, r, http.StatusBadRequest, "granularity must be weekly or monthly")
		return
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			WriteProblem(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	cards, err := h.store.ListNeeds(r.Context())
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	writeJSON(w, struct {
		Granularity dashboard.Granularity      `json:"granularity"`
		Offset      int                        `json:"offset"`
		Buckets     []dashboard.ActivityBucket `json:"buckets"`
	}{granularity, offset, dashboard.Activity(cards, granularity, offset, time.Now().UTC())})
}

// WizardState handles GET /api/v1/wizard
func (h *Handler) WizardState(w http.ResponseWriter, r *http.Request) {
	session, err := h.wizards.Session(MustMemberFromContext(r.Context()))
	if err != nil {
		WriteProblem(w, r, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, session.Snapshot())
}

type annoyanceRequest struct {
	Text string `json:"text"`
}

// WizardAnnoyance handles PUT /api/v1/wizard/annoyance
func (h *Handler) WizardAnnoyance(w http.ResponseWriter, r *http.Request) {
	session, err := h.wizards.Session(MustMemberFromContext(r.Context()))
	if err != nil {
		WriteProblem(w, r, http.StatusForbidden, err.Error())
		return
	}

	var req annoyanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	// The draft may be empty while the author is still thinking; only
	// bound its size and shape.
	var c validation.Collector
	c.Add(validation.ValidateUTF8("text", req.Text))
	c.Add(validation.ValidateNoNullBytes("text", req.Text))
	c.Add(validation.ValidateMaxLength("text", req.Text, validation.MaxAnnoyanceLength))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	if err := session.SetAnnoyance(req.Text); err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, session.Snapshot())
}

// WizardIntrospect handles POST /api/v1/wizard/introspection
func (h *Handler) WizardIntrospect(w http.ResponseWriter, r *http.Request) {
	session, err := h.wizards.Session(MustMemberFromContext(r.Context()))
	if err != nil {
		WriteProblem(w, r, http.StatusForbidden, err.Error())
		return
	}
	if err := session.BeginIntrospection(r.Context()); err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, session.Snapshot())
}

// WizardNext handles POST /api/v1/wizard/next
func (h *Handler) WizardNext(w http.ResponseWriter, r *http.Request) {
	session, err := h.wizards.Session(MustMemberFromContext(r.Context()))
	if err != nil {
		WriteProblem(w, r, http.StatusForbidden, err.Error())
		return
	}
	if err := session.NextSection(r.Context()); err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, session.Snapshot())
}

// WizardBack handles POST /api/v1/wizard/back
func (h *Handler) WizardBack(w http.ResponseWriter, r *http.Request) {
	session, err := h.wizards.Session(MustMemberFromContext(r.Context()))
	if err != nil {
		WriteProblem(w, r, http.StatusForbidden, err.Error())
		return
	}
	if err := session.PrevSection(); err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, session.Snapshot())
}

// WizardShare handles POST /api/v1/wizard/share
func (h *Handler) WizardShare(w http.ResponseWriter, r *http.Request) {
	session, err := h.wizards.Session(MustMemberFromContext(r.Context()))
	if err != nil {
		WriteProblem(w, r, http.StatusForbidden, err.Error())
		return
	}
	card, err := session.Share(r.Context())
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, card)
}

// WizardReset handles POST /api/v1/wizard/reset
func (h *Handler) WizardReset(w http.ResponseWriter, r *http.Request) {
	session, err := h.wizards.Session(MustMemberFromContext(r.Context()))
	if err != nil {
		WriteProblem(w, r, http.StatusForbidden, err.Error())
		return
	}
	session.Reset()
	writeJSON(w, session.Snapshot())
}

// DeltaResponse is a page of the change feed.
type DeltaResponse struct {
	Entries        []store.ChangeEntry `json:"entries"`
	LastSequence   int64               `json:"lastSequence"`
	LatestSequence int64               `json:"latestSequence"`
	HasMore        bool                `json:"hasMore"`
}

// Changes handles GET /api/v1/changes. Clients page through the change
// feed to rebuild or resume their replica.
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	after, limit, err := parseChangesParams(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.store.ChangesSince(r.Context(), after, limit)
	if err != nil {
		slog.Error("change feed query failed", "error", err, "after", after)
		MapDomainError(w, r, err)
		return
	}
	latest, err := h.store.LatestSequence(r.Context())
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	writeJSON(w, buildDelta(entries, after, limit, latest))
}

// Watch handles GET /api/v1/changes/watch: a long-poll that returns as
// soon as a change lands past the client's cursor, or an empty page on
// timeout. Push notifications come from the store's in-process
// subscription; a missed notification only delays delivery until the
// next poll, never loses data.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	after, limit, err := parseChangesParams(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	timeout := DefaultWatchTimeout
	if s := r.URL.Query().Get("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 || d > 5*time.Minute {
			WriteProblem(w, r, http.StatusBadRequest, "timeout must be a duration up to 5m")
			return
		}
		timeout = d
	}

	sub := h.store.Subscribe(16)
	defer sub.Close()

	// Catch up first: changes may have landed before we subscribed.
	entries, err := h.store.ChangesSince(r.Context(), after, limit)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	if len(entries) == 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
	wait:
		for {
			select {
			case <-r.Context().Done():
				return
			case <-timer.C:
				break wait
			case entry, ok := <-sub.C:
				if !ok {
					break wait
				}
				if entry.Sequence > after {
					entries, err = h.store.ChangesSince(r.Context(), after, limit)
					if err != nil {
						MapDomainError(w, r, err)
						return
					}
					break wait
				}
			}
		}
	}

	latest, err := h.store.LatestSequence(r.Context())
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, buildDelta(entries, after, limit, latest))
}

func parseChangesParams(r *http.Request) (after int64, limit int, err error) {
	if s := r.URL.Query().Get("after"); s != "" {
		after, err = strconv.ParseInt(s, 10, 64)
		if err != nil || after < 0 {
			return 0, 0, errors.New("after must be a non-negative integer")
		}
	}

	limit = DefaultDeltaLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > MaxDeltaLimit {
			limit = MaxDeltaLimit
		}
	}
	return after, limit, nil
}

func buildDelta(entries []store.ChangeEntry, after int64, limit int, latest int64) DeltaResponse {
	if entries == nil {
		entries = []store.ChangeEntry{}
	}
	last := after
	if len(entries) > 0 {
		last = entries[len(entries)-1].Sequence
	}
	return DeltaResponse{
		Entries:        entries,
		LastSequence:   last,
		LatestSequence: latest,
		HasMore:        len(entries) == limit && last < latest,
	}
}

// RemindersDue handles GET /api/v1/reminders/due
func (h *Handler) RemindersDue(w http.ResponseWriter, r *http.Request) {
	hits := h.reminders.Due()
	writeJSON(w, struct {
		Reminders []store.ReminderHit `json:"reminders"`
	}{Reminders: hits})
}

// SnapshotURL handles GET /api/v1/snapshot/url
func (h *Handler) SnapshotURL(w http.ResponseWriter, r *http.Request) {
	url, expiry, err := h.uploader.PresignedURL(r.Context())
	if err != nil {
		if errors.Is(err, snapshot.ErrNotConfigured) {
			WriteProblem(w, r, http.StatusServiceUnavailable, "Snapshot storage not configured")
			return
		}
		slog.Error("presigned URL generation failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, struct {
		URL     string    `json:"url"`
		Expires time.Time `json:"expires"`
	}{URL: url, Expires: expiry})
}
