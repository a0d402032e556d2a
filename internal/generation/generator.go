// Package generation produces the guided-introspection artifacts: depth
// analysis of a raw annoyance, the six-section introspection, the
// partner-facing translation, and a short card title. Two providers are
// supported, Gemini and OpenAI, behind the same interface.
package generation

import (
	"context"
	"strings"

	"github.com/solacelabs/tandem/internal/types"
)

// Generator is the model-backed pipeline behind the sharing wizard.
type Generator interface {
	// AnalyzeDepth scores an annoyance draft against the introspection
	// checklist and returns guidance toward the first missing point.
	AnalyzeDepth(ctx context.Context, annoyance string) (types.DepthAnalysis, error)

	// Introspect produces the six-section deep analysis of a completed
	// annoyance. Uses the deep model.
	Introspect(ctx context.Context, annoyance string, author, partner types.Member) (types.Introspection, error)

	// Translate reframes the introspection as a message for the partner.
	// Returns an UrgentContentError without calling the model when the
	// annoyance contains crisis vocabulary.
	Translate(ctx context.Context, annoyance string, intro types.Introspection, author, partner types.Member) (types.Translation, error)

	// Title summarizes the card in a few French words.
	Title(ctx context.Context, annoyance, translatedNeed string) (string, error)
}

// FallbackTitle derives a card title from the annoyance text when title
// generation fails. Sharing must not be blocked by a summarization error.
func FallbackTitle(annoyance string) string {
	words := strings.Fields(annoyance)
	if len(words) > 7 {
		words = words[:7]
	}
	return strings.Join(words, " ") + "..."
}
