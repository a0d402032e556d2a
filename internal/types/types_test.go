package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCouple_PartnerOf(t *testing.T) {
	c := Couple{First: "Wissam", Second: "Sylvie"}

	if got := c.PartnerOf("Wissam"); got != "Sylvie" {
		t.Errorf("PartnerOf(Wissam) = %q, want Sylvie", got)
	}
	if got := c.PartnerOf("Sylvie"); got != "Wissam" {
		t.Errorf("PartnerOf(Sylvie) = %q, want Wissam", got)
	}
	if got := c.PartnerOf("Nobody"); got != "" {
		t.Errorf("PartnerOf(Nobody) = %q, want empty", got)
	}
}

func TestCouple_Contains(t *testing.T) {
	c := Couple{First: "Wissam", Second: "Sylvie"}

	if !c.Contains("Wissam") || !c.Contains("Sylvie") {
		t.Error("Contains should be true for both members")
	}
	if c.Contains("Nobody") {
		t.Error("Contains should be false for an unknown member")
	}
}

func TestNeedCard_MarshalJSON_NilActionPlans(t *testing.T) {
	n := NeedCard{
		ID:        "01ABC",
		Author:    "Wissam",
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:    StatusShared,
	}

	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"actionPlans":[]`) {
		t.Errorf("nil ActionPlans should marshal as [], got %s", data)
	}
}

func TestNeedCard_JSONRoundTrip(t *testing.T) {
	reminder := time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC)
	orig := NeedCard{
		ID:                "01HX",
		Author:            "Sylvie",
		Title:             "Le besoin de connexion sans écran",
		OriginalAnnoyance: "Il est toujours sur son téléphone.",
		TranslatedNeed:    "Il semble que pour Sylvie...",
		Validation:        "Votre besoin de présence est légitime.",
		ActionPlans: []ActionPlan{
			{ID: "01AP", Text: "Poser le téléphone au dîner", Author: "Wissam", ReminderDate: &reminder},
		},
		Timestamp:           time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:              StatusDiscussed,
		SeenByPartner:       true,
		AuthorHasSeenUpdate: false,
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got NeedCard
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != orig.ID || got.Author != orig.Author || got.Status != orig.Status {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.ActionPlans) != 1 || !got.ActionPlans[0].ReminderDate.Equal(reminder) {
		t.Errorf("action plans did not survive round trip: %+v", got.ActionPlans)
	}
}

func TestDepthAnalysis_MarshalJSON_NilCompletedPoints(t *testing.T) {
	data, err := json.Marshal(DepthAnalysis{DepthScore: 0, Feedback: "..."})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"completed_points":[]`) {
		t.Errorf("nil CompletedPoints should marshal as [], got %s", data)
	}
}

func TestNeedPatch_IsZero(t *testing.T) {
	if !(NeedPatch{}).IsZero() {
		t.Error("empty patch should be zero")
	}
	seen := true
	if (NeedPatch{SeenByPartner: &seen}).IsZero() {
		t.Error("patch with a set field should not be zero")
	}
}

func TestIntrospection_SectionsOrder(t *testing.T) {
	i := Introspection{
		Story:             AnalysisSection{Title: "story"},
		UnderlyingEmotion: AnalysisSection{Title: "emotion"},
		UnmetNeed:         AnalysisSection{Title: "need"},
		MentalMechanism:   AnalysisSection{Title: "mechanism"},
		ChildhoodEcho:     AnalysisSection{Title: "echo"},
		PersonalPower:     AnalysisSection{Title: "power"},
	}

	got := i.Sections()
	want := []string{"story", "emotion", "need", "mechanism", "echo", "power"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sections, got %d", len(want), len(got))
	}
	for idx, title := range want {
		if got[idx].Title != title {
			t.Errorf("section %d = %q, want %q", idx, got[idx].Title, title)
		}
	}
}
