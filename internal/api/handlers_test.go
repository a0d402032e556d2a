package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/solacelabs/tandem/internal/needs"
	"github.com/solacelabs/tandem/internal/snapshot"
	"github.com/solacelabs/tandem/internal/store"
	"github.com/solacelabs/tandem/internal/types"
	"github.com/solacelabs/tandem/internal/wizard"
	"github.com/solacelabs/tandem/internal/worker"
)

const testAPIKey = "test-api-key"

var testCouple = types.Couple{First: "Wissam", Second: "Sylvie"}

type stubGenerator struct {
	depth       types.DepthAnalysis
	intro       types.Introspection
	translation types.Translation
	title       string
	titleErr    error
}

func (s *stubGenerator) AnalyzeDepth(context.Context, string) (types.DepthAnalysis, error) {
	return s.depth, nil
}

func (s *stubGenerator) Introspect(context.Context, string, types.Member, types.Member) (types.Introspection, error) {
	return s.intro, nil
}

func (s *stubGenerator) Translate(context.Context, string, types.Introspection, types.Member, types.Member) (types.Translation, error) {
	return s.translation, nil
}

func (s *stubGenerator) Title(context.Context, string, string) (string, error) {
	return s.title, s.titleErr
}

type testEnv struct {
	server *httptest.Server
	store  *store.SQLiteStore
}

func newTestEnv(t *testing.T, gen *stubGenerator) *testEnv {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	needsSvc := needs.NewService(db, testCouple, logger)
	wizCfg := wizard.Config{
		DepthThreshold:   100,
		AnalysisDebounce: time.Millisecond,
		CompleteDelay:    time.Hour, // keep complete state stable in tests
	}
	wizards := wizard.NewManager(testCouple, wizCfg, gen, db, logger)
	reminders := worker.NewReminderCoordinator(db, time.Hour)

	h := NewHandler(db, needsSvc, wizards, testCouple, reminders, &snapshot.NoopUploader{}, testAPIKey, "test", "stub-model")
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: db}
}

func (e *testEnv) request(t *testing.T, method, path string, member types.Member, body any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if member != "" {
		req.Header.Set(MemberHeader, string(member))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (e *testEnv) createNeed(t *testing.T, author types.Member) *types.NeedCard {
	t.Helper()
	card, err := e.store.CreateNeed(context.Background(), types.NewNeedCard{
		Author:            author,
		Title:             "Le sentiment d'invisibilité",
		OriginalAnnoyance: "il laisse traîner son sac",
		TranslatedNeed:    "besoin d'équipe",
		Validation:        "votre ressenti est légitime",
		ActionPlans:       []types.ActionPlan{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return card
}

func TestHealth_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})

	resp, err := http.Get(env.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	health := decode[types.HealthResponse](t, resp)
	if health.Status != "healthy" || health.GenerationModel != "stub-model" {
		t.Errorf("health = %+v", health)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})

	resp, err := http.Get(env.server.URL + "/api/v1/needs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestMemberHeader_Required(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})

	resp := env.request(t, http.MethodGet, "/api/v1/needs", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/needs", "Alice", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestOpenNeed_PartnerFlagAndNotFound(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})
	card := env.createNeed(t, "Sylvie")

	resp := env.request(t, http.MethodGet, "/api/v1/needs/"+card.ID, "Wissam", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	opened := decode[types.NeedCard](t, resp)
	if !opened.SeenByPartner {
		t.Error("partner open should set seenByPartner")
	}

	resp = env.request(t, http.MethodGet, "/api/v1/needs/missing", "Wissam", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRespond_FlowAndValidation(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})
	card := env.createNeed(t, "Sylvie")

	resp := env.request(t, http.MethodPost, "/api/v1/needs/"+card.ID+"/respond", "Wissam",
		respondRequest{Plans: []string{"ranger mon sac en rentrant"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	updated := decode[types.NeedCard](t, resp)
	if updated.Status != types.StatusDiscussed || len(updated.ActionPlans) != 1 {
		t.Errorf("card = %+v", updated)
	}

	// Author responding to their own card is forbidden.
	resp = env.request(t, http.MethodPost, "/api/v1/needs/"+card.ID+"/respond", "Sylvie",
		respondRequest{Plans: []string{"plan"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	// Invalid plan text is a 422 with field errors.
	resp = env.request(t, http.MethodPost, "/api/v1/needs/"+card.ID+"/respond", "Wissam",
		respondRequest{Plans: []string{"bad\x00plan"}})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	problem := decode[ProblemWithErrors](t, resp)
	if len(problem.Errors) == 0 {
		t.Error("expected field errors")
	}
}

func TestPlanOperations(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})
	card := env.createNeed(t, "Sylvie")

	resp := env.request(t, http.MethodPost, "/api/v1/needs/"+card.ID+"/respond", "Wissam",
		respondRequest{Plans: []string{"ranger mon sac"}})
	updated := decode[types.NeedCard](t, resp)
	planID := updated.ActionPlans[0].ID
	base := "/api/v1/needs/" + card.ID + "/plans/" + planID

	resp = env.request(t, http.MethodPost, base+"/toggle", "Wissam", nil)
	toggled := decode[types.NeedCard](t, resp)
	if !toggled.ActionPlans[0].IsCompleted {
		t.Error("toggle did not complete the plan")
	}

	resp = env.request(t, http.MethodPut, base+"/reminder", "Wissam", reminderRequest{Days: 7})
	withReminder := decode[types.NeedCard](t, resp)
	if withReminder.ActionPlans[0].ReminderDate == nil {
		t.Error("reminder not set")
	}

	// Offsets outside the fixed choices are rejected.
	resp = env.request(t, http.MethodPut, base+"/reminder", "Wissam", reminderRequest{Days: 5})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = env.request(t, http.MethodDelete, base+"/reminder", "Wissam", nil)
	cleared := decode[types.NeedCard](t, resp)
	if cleared.ActionPlans[0].ReminderDate != nil {
		t.Error("reminder not cleared")
	}

	resp = env.request(t, http.MethodDelete, base, "Wissam", nil)
	removed := decode[types.NeedCard](t, resp)
	if len(removed.ActionPlans) != 0 {
		t.Error("plan not removed")
	}
}

func TestPlanOperations_MalformedPlanID(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})
	card := env.createNeed(t, "Sylvie")
	base := "/api/v1/needs/" + card.ID + "/plans/not-a-ulid"

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, base + "/toggle"},
		{http.MethodPut, base + "/reminder"},
		{http.MethodDelete, base + "/reminder"},
		{http.MethodDelete, base},
	} {
		resp := env.request(t, tc.method, tc.path, "Wissam", nil)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("%s %s: status = %d, want 422", tc.method, tc.path, resp.StatusCode)
		}
		problem := decode[ProblemWithErrors](t, resp)
		if len(problem.Errors) == 0 || problem.Errors[0].Field != "planID" {
			t.Errorf("%s %s: errors = %+v", tc.method, tc.path, problem.Errors)
		}
	}
}

func TestCancelNeed_AuthorOnly(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})
	card := env.createNeed(t, "Sylvie")

	resp := env.request(t, http.MethodDelete, "/api/v1/needs/"+card.ID, "Wissam", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	resp = env.request(t, http.MethodDelete, "/api/v1/needs/"+card.ID, "Sylvie", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})
	mine := env.createNeed(t, "Sylvie")
	env.createNeed(t, "Wissam")

	resp := env.request(t, http.MethodGet, "/api/v1/dashboard", "Sylvie", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	dash := decode[DashboardResponse](t, resp)
	if len(dash.Mine) != 1 || dash.Mine[0].ID != mine.ID {
		t.Errorf("mine = %+v", dash.Mine)
	}
	if len(dash.Partners) != 1 {
		t.Errorf("partners = %+v", dash.Partners)
	}
	// Wissam's card is unseen by Sylvie.
	if dash.Notifications != 1 {
		t.Errorf("notifications = %d, want 1", dash.Notifications)
	}
}

func TestActivity_BadParams(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})

	resp := env.request(t, http.MethodGet, "/api/v1/dashboard/activity?granularity=daily", "Sylvie", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/dashboard/activity?granularity=monthly&offset=-1", "Sylvie", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWizard_ShareFlow(t *testing.T) {
	gen := &stubGenerator{
		depth: types.DepthAnalysis{
			DepthScore:      100,
			Feedback:        "complet",
			CompletedPoints: []string{"situation", "sensation", "emotion", "thoughts", "story", "echo", "need", "responsibility"},
		},
		translation: types.Translation{Validation: "v", Need: "n"},
		title:       "Le besoin d'équipe",
	}
	env := newTestEnv(t, gen)

	resp := env.request(t, http.MethodPut, "/api/v1/wizard/annoyance", "Sylvie",
		annoyanceRequest{Text: "un texte qui couvre les huit points"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("annoyance status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	time.Sleep(50 * time.Millisecond) // let the debounced analysis land

	resp = env.request(t, http.MethodPost, "/api/v1/wizard/introspection", "Sylvie", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("introspection status = %d", resp.StatusCode)
	}
	snap := decode[wizard.Snapshot](t, resp)
	if snap.State != wizard.StateIntrospection {
		t.Fatalf("state = %s", snap.State)
	}

	for i := 0; i <= 6; i++ {
		resp = env.request(t, http.MethodPost, "/api/v1/wizard/next", "Sylvie", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("next %d status = %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp = env.request(t, http.MethodPost, "/api/v1/wizard/share", "Sylvie", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("share status = %d", resp.StatusCode)
	}
	card := decode[types.NeedCard](t, resp)
	if card.Title != "Le besoin d'équipe" || card.Status != types.StatusShared {
		t.Errorf("card = %+v", card)
	}

	// The shared card is visible to the partner.
	resp = env.request(t, http.MethodGet, "/api/v1/needs", "Wissam", nil)
	list := decode[struct {
		Needs []types.NeedCard `json:"needs"`
	}](t, resp)
	if len(list.Needs) != 1 {
		t.Errorf("needs = %d, want 1", len(list.Needs))
	}
}

func TestWizard_IntrospectionGateBelowThreshold(t *testing.T) {
	gen := &stubGenerator{depth: types.DepthAnalysis{DepthScore: 50}}
	env := newTestEnv(t, gen)

	resp := env.request(t, http.MethodPut, "/api/v1/wizard/annoyance", "Sylvie",
		annoyanceRequest{Text: "trop court"})
	resp.Body.Close()
	time.Sleep(50 * time.Millisecond)

	resp = env.request(t, http.MethodPost, "/api/v1/wizard/introspection", "Sylvie", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestChanges_PaginationAndValidation(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})
	env.createNeed(t, "Sylvie")
	env.createNeed(t, "Wissam")

	resp := env.request(t, http.MethodGet, "/api/v1/changes?after=0&limit=1", "Sylvie", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	page := decode[DeltaResponse](t, resp)
	if len(page.Entries) != 1 || !page.HasMore {
		t.Errorf("page = %+v", page)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/changes?after="+strconv.FormatInt(page.LastSequence, 10), "Sylvie", nil)
	rest := decode[DeltaResponse](t, resp)
	if len(rest.Entries) != 1 || rest.HasMore {
		t.Errorf("rest = %+v", rest)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/changes?after=-1", "Sylvie", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWatch_ReturnsExistingChangesImmediately(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})
	env.createNeed(t, "Sylvie")

	start := time.Now()
	resp := env.request(t, http.MethodGet, "/api/v1/changes/watch?after=0&timeout=5s", "Wissam", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	page := decode[DeltaResponse](t, resp)
	if len(page.Entries) == 0 {
		t.Fatal("expected existing change to be returned")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("watch should not have blocked")
	}
}

func TestWatch_TimesOutEmpty(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})

	resp := env.request(t, http.MethodGet, "/api/v1/changes/watch?after=0&timeout=50ms", "Sylvie", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	page := decode[DeltaResponse](t, resp)
	if len(page.Entries) != 0 {
		t.Errorf("entries = %+v", page.Entries)
	}
}

func TestRemindersDue_EmptyShape(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})

	resp := env.request(t, http.MethodGet, "/api/v1/reminders/due", "Sylvie", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Reminders []store.ReminderHit `json:"reminders"`
	}](t, resp)
	if body.Reminders == nil {
		t.Error("reminders should be an empty list, not null")
	}
}

func TestSnapshotURL_NotConfigured(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{})

	resp := env.request(t, http.MethodGet, "/api/v1/snapshot/url", "Sylvie", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

