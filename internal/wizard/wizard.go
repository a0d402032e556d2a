// Package wizard drives the guided sharing flow: annoyance drafting with
// debounced depth analysis, the six-section introspection review, the
// partner-facing translation, and the final share. One session exists
// per author and is safe for concurrent handler access.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solacelabs/tandem/internal/generation"
	"github.com/solacelabs/tandem/internal/types"
)

// State identifies the wizard's current step.
type State string

const (
	StateAnnoyance     State = "annoyance"
	StateIntrospection State = "introspection"
	StateTranslation   State = "translation"
	StateComplete      State = "complete"
	StateError         State = "error"
)

// Sub-steps within introspection: 0 is the overview screen, 1..6 the
// sections in canonical order.
const lastSubStep = 6

// Shown while drafting when an advisory depth call fails for a reason
// other than a bad credential.
const analysisPausedFeedback = "Analyse en pause. Continuez à écrire..."

var (
	// ErrWrongState is returned when an operation does not apply to the
	// session's current state.
	ErrWrongState = errors.New("wizard: operation not valid in current state")

	// ErrDepthBelowThreshold guards the annoyance→introspection
	// transition.
	ErrDepthBelowThreshold = errors.New("wizard: depth score below threshold")
)

// Creator is the slice of the store the wizard needs.
type Creator interface {
	CreateNeed(ctx context.Context, n types.NewNeedCard) (*types.NeedCard, error)
}

// Config holds the tunable timings and the introspection gate.
type Config struct {
	DepthThreshold   int
	AnalysisDebounce time.Duration
	CompleteDelay    time.Duration
}

// Session is one author's wizard. All exported methods are safe for
// concurrent use.
type Session struct {
	author  types.Member
	partner types.Member
	cfg     Config
	gen     generation.Generator
	needs   Creator
	logger  *slog.Logger

	mu            sync.Mutex
	state         State
	annoyance     string
	depth         types.DepthAnalysis
	analysisGen   uint64
	pending       *time.Timer
	introspection types.Introspection
	subStep       int
	translation   types.Translation
	errMessage    string
	urgent        bool
	badCredential bool
	sharedNeedID  string
	resetTimer    *time.Timer
}

// Snapshot is a point-in-time copy of session state for rendering.
type Snapshot struct {
	Author        types.Member        `json:"author"`
	State         State               `json:"state"`
	Annoyance     string              `json:"annoyance"`
	Depth         types.DepthAnalysis `json:"depth"`
	SubStep       int                 `json:"subStep"`
	Introspection types.Introspection `json:"introspection"`
	Translation   types.Translation   `json:"translation"`
	ErrorMessage  string              `json:"errorMessage,omitempty"`
	Urgent        bool                `json:"urgent"`
	BadCredential bool                `json:"badCredential"`
	SharedNeedID  string              `json:"sharedNeedId,omitempty"`
}

// NewSession creates a wizard session for author, whose partner receives
// anything shared.
func NewSession(author, partner types.Member, cfg Config, gen generation.Generator, needs Creator, logger *slog.Logger) *Session {
	return &Session{
		author:  author,
		partner: partner,
		cfg:     cfg,
		gen:     gen,
		needs:   needs,
		logger:  logger,
		state:   StateAnnoyance,
		depth:   generation.EmptyDepthAnalysis(),
	}
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Author:        s.author,
		State:         s.state,
		Annoyance:     s.annoyance,
		Depth:         s.depth,
		SubStep:       s.subStep,
		Introspection: s.introspection,
		Translation:   s.translation,
		ErrorMessage:  s.errMessage,
		Urgent:        s.urgent,
		BadCredential: s.badCredential,
		SharedNeedID:  s.sharedNeedID,
	}
}

// SetAnnoyance records a new draft and schedules a debounced depth
// analysis. The analysis is advisory: typing is never blocked on it, and
// a result computed for stale input is dropped rather than applied.
func (s *Session) SetAnnoyance(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAnnoyance {
		return fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}

	s.annoyance = text
	s.analysisGen++
	gen := s.analysisGen

	if s.pending != nil {
		s.pending.Stop()
	}
	s.pending = time.AfterFunc(s.cfg.AnalysisDebounce, func() {
		s.analyze(gen, text)
	})
	return nil
}

func (s *Session) analyze(gen uint64, text string) {
	result, err := s.gen.AnalyzeDepth(context.Background(), text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.analysisGen || s.state != StateAnnoyance {
		return
	}
	if err != nil {
		if errors.Is(err, generation.ErrInvalidCredential) {
			s.badCredential = true
			return
		}
		s.logger.Warn("depth analysis failed", "author", s.author, "error", err)
		s.depth.Feedback = analysisPausedFeedback
		return
	}
	s.depth = result
}

// BeginIntrospection runs the deep analysis once the draft covers the
// full rubric. A failure here is terminal for the attempt.
func (s *Session) BeginIntrospection(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateAnnoyance {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}
	if s.depth.DepthScore < s.cfg.DepthThreshold {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d < %d", ErrDepthBelowThreshold, s.depth.DepthScore, s.cfg.DepthThreshold)
	}
	annoyance := s.annoyance
	s.analysisGen++ // invalidate any in-flight depth result
	tok := s.analysisGen
	s.mu.Unlock()

	intro, err := s.gen.Introspect(ctx, annoyance, s.author, s.partner)

	s.mu.Lock()
	defer s.mu.Unlock()
	// The draft or session moved on while the model ran; the result no
	// longer describes the current state, so drop it.
	if tok != s.analysisGen || s.state != StateAnnoyance {
		return fmt.Errorf("%w: superseded", ErrWrongState)
	}
	if err != nil {
		s.fail(err)
		return err
	}
	s.introspection = intro
	s.state = StateIntrospection
	s.subStep = 0
	return nil
}

// NextSection advances through the introspection review. Moving past the
// last section runs the translator and enters the translation state.
func (s *Session) NextSection(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIntrospection {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}
	if s.subStep < lastSubStep {
		s.subStep++
		s.mu.Unlock()
		return nil
	}
	annoyance := s.annoyance
	intro := s.introspection
	tok := s.analysisGen
	s.mu.Unlock()

	tr, err := s.gen.Translate(ctx, annoyance, intro, s.author, s.partner)

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok != s.analysisGen || s.state != StateIntrospection {
		return fmt.Errorf("%w: superseded", ErrWrongState)
	}
	if err != nil {
		s.fail(err)
		return err
	}
	s.translation = tr
	s.state = StateTranslation
	s.subStep = 0
	return nil
}

// PrevSection steps back through the introspection review.
func (s *Session) PrevSection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIntrospection {
		return fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}
	if s.subStep > 0 {
		s.subStep--
	}
	return nil
}

// Share assembles the card and creates it in the store. Title
// generation is best-effort: any failure falls back to a local title so
// sharing itself is never blocked, though a bad credential is still
// recorded for the re-auth flow.
func (s *Session) Share(ctx context.Context) (*types.NeedCard, error) {
	s.mu.Lock()
	if s.state != StateTranslation {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}
	annoyance := s.annoyance
	tr := s.translation
	tok := s.analysisGen
	s.mu.Unlock()

	title, err := s.gen.Title(ctx, annoyance, tr.Need)
	if err != nil {
		if errors.Is(err, generation.ErrInvalidCredential) {
			s.mu.Lock()
			s.badCredential = true
			s.mu.Unlock()
		}
		s.logger.Warn("title generation failed, using fallback", "author", s.author, "error", err)
		title = generation.FallbackTitle(annoyance)
	}

	// Re-check before creating the card: a session reset during title
	// generation must not publish. The store write happens under the
	// lock so no further supersession is possible.
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok != s.analysisGen || s.state != StateTranslation {
		return nil, fmt.Errorf("%w: superseded", ErrWrongState)
	}

	card, err := s.needs.CreateNeed(ctx, types.NewNeedCard{
		Author:            s.author,
		Title:             title,
		OriginalAnnoyance: annoyance,
		TranslatedNeed:    tr.Need,
		Validation:        tr.Validation,
		ActionPlans:       []types.ActionPlan{},
		Status:            types.StatusShared,
	})
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.sharedNeedID = card.ID
	s.state = StateComplete
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
	s.resetTimer = time.AfterFunc(s.cfg.CompleteDelay, s.Reset)
	return card, nil
}

// Reset returns the session to a blank annoyance state. Also the only
// way out of an error state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
	s.analysisGen++
	s.state = StateAnnoyance
	s.annoyance = ""
	s.depth = generation.EmptyDepthAnalysis()
	s.introspection = types.Introspection{}
	s.subStep = 0
	s.translation = types.Translation{}
	s.errMessage = ""
	s.urgent = false
	s.sharedNeedID = ""
}

// fail moves the session to the terminal error state. Callers hold the
// lock.
func (s *Session) fail(err error) {
	if errors.Is(err, generation.ErrInvalidCredential) {
		s.badCredential = true
	}
	s.urgent = generation.IsUrgent(err)
	s.errMessage = err.Error()
	s.state = StateError
}
