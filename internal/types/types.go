package types

import (
	"encoding/json"
	"time"
)

// Member identifies one of the two members of the paired relationship.
type Member string

// NeedStatus represents the lifecycle state of a shared need.
type NeedStatus string

const (
	// StatusShared is the initial state of every need.
	StatusShared NeedStatus = "shared"
	// StatusDiscussed is set when the partner submits at least one action plan.
	// The transition is forward-only; there is no path back to shared.
	StatusDiscussed NeedStatus = "discussed"
)

// Couple holds the two fixed member identities of the relationship.
type Couple struct {
	First  Member `json:"first"`
	Second Member `json:"second"`
}

// Contains reports whether m is one of the couple's members.
func (c Couple) Contains(m Member) bool {
	return m == c.First || m == c.Second
}

// PartnerOf returns the other member of the couple.
// Returns the empty Member if m is not part of the couple.
func (c Couple) PartnerOf(m Member) Member {
	switch m {
	case c.First:
		return c.Second
	case c.Second:
		return c.First
	}
	return ""
}

// ActionPlan is a concrete commitment made by the partner in response
// to a shared need. It lives only inside a NeedCard's ActionPlans slice.
type ActionPlan struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Author       Member     `json:"author"`
	IsCompleted  bool       `json:"isCompleted"`
	ReminderDate *time.Time `json:"reminderDate,omitempty"`
}

// NeedCard is one shared grievance-to-need record.
type NeedCard struct {
	ID                  string       `json:"id"`
	Author              Member       `json:"author"`
	Title               string       `json:"title"`
	OriginalAnnoyance   string       `json:"originalAnnoyance"`
	TranslatedNeed      string       `json:"translatedNeed"`
	Validation          string       `json:"validation"`
	ActionPlans         []ActionPlan `json:"actionPlans"`
	Timestamp           time.Time    `json:"timestamp"`
	Status              NeedStatus   `json:"status"`
	SeenByPartner       bool         `json:"seenByPartner"`
	AuthorHasSeenUpdate bool         `json:"authorHasSeenUpdate"`
}

// MarshalJSON ensures a nil ActionPlans slice marshals as [] not null.
func (n NeedCard) MarshalJSON() ([]byte, error) {
	if n.ActionPlans == nil {
		n.ActionPlans = []ActionPlan{}
	}
	type Alias NeedCard
	return json.Marshal(Alias(n))
}

// NewNeedCard is the input type for creating a need (without generated fields).
type NewNeedCard struct {
	Author              Member       `json:"author"`
	Title               string       `json:"title"`
	OriginalAnnoyance   string       `json:"originalAnnoyance"`
	TranslatedNeed      string       `json:"translatedNeed"`
	Validation          string       `json:"validation"`
	ActionPlans         []ActionPlan `json:"actionPlans"`
	Status              NeedStatus   `json:"status"`
	SeenByPartner       bool         `json:"seenByPartner"`
	AuthorHasSeenUpdate bool         `json:"authorHasSeenUpdate"`
}

// NeedPatch describes a partial update to a need. Nil fields are left
// untouched; the store applies set fields at document-field granularity
// with last-writer-wins semantics.
type NeedPatch struct {
	Title               *string       `json:"title,omitempty"`
	ActionPlans         *[]ActionPlan `json:"actionPlans,omitempty"`
	Status              *NeedStatus   `json:"status,omitempty"`
	SeenByPartner       *bool         `json:"seenByPartner,omitempty"`
	AuthorHasSeenUpdate *bool         `json:"authorHasSeenUpdate,omitempty"`
}

// IsZero reports whether the patch sets no fields.
func (p NeedPatch) IsZero() bool {
	return p.Title == nil && p.ActionPlans == nil && p.Status == nil &&
		p.SeenByPartner == nil && p.AuthorHasSeenUpdate == nil
}

// DepthAnalysis is the transient result of scoring an annoyance text
// against the 8-point introspection rubric. It is never persisted.
type DepthAnalysis struct {
	DepthScore      int      `json:"depth_score"`
	Feedback        string   `json:"feedback"`
	CompletedPoints []string `json:"completed_points"`
}

// MarshalJSON ensures a nil CompletedPoints slice marshals as [] not null.
func (d DepthAnalysis) MarshalJSON() ([]byte, error) {
	if d.CompletedPoints == nil {
		d.CompletedPoints = []string{}
	}
	type Alias DepthAnalysis
	return json.Marshal(Alias(d))
}

// AnalysisSection is one titled section of a deep introspection.
type AnalysisSection struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Explanation string `json:"explanation"`
}

// Introspection is the six-section structured analysis of an annoyance,
// produced before translation. The schema is fixed, not extensible.
type Introspection struct {
	Story             AnalysisSection `json:"story"`
	UnderlyingEmotion AnalysisSection `json:"underlyingEmotion"`
	UnmetNeed         AnalysisSection `json:"unmetNeed"`
	MentalMechanism   AnalysisSection `json:"mentalMechanism"`
	ChildhoodEcho     AnalysisSection `json:"childhoodEcho"`
	PersonalPower     AnalysisSection `json:"personalPower"`
}

// Sections returns the six sections in their canonical review order.
func (i Introspection) Sections() []AnalysisSection {
	return []AnalysisSection{
		i.Story,
		i.UnderlyingEmotion,
		i.UnmetNeed,
		i.MentalMechanism,
		i.ChildhoodEcho,
		i.PersonalPower,
	}
}

// Translation is the output of the translation step: a private
// validation sentence for the author and the partner-facing narrative.
type Translation struct {
	Validation string `json:"validation"`
	Need       string `json:"need"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	GenerationModel string `json:"generation_model"`
	NeedCount       int64  `json:"need_count"`
}
