package generation

import (
	"math"

	"github.com/solacelabs/tandem/internal/types"
)

// The eight introspection points, in guidance order. The model reports
// which points a draft covers; score and feedback are derived here so
// they stay consistent regardless of provider.
var rubricPoints = []string{
	"situation",
	"sensation",
	"emotion",
	"thoughts",
	"story",
	"echo",
	"need",
	"responsibility",
}

// Guidance toward each point, shown when it is the first one missing.
var pointFeedback = map[string]string{
	"situation":      "Commencez par décrire la situation factuellement.",
	"sensation":      "C'est noté pour la situation. Quelle a été votre sensation physique à ce moment précis ?",
	"emotion":        "Quelle émotion principale avez-vous ressentie ? Exprimez-la en disant « je ».",
	"thoughts":       "Très bien. Quelles sont les pensées ou les jugements qui vous sont venus à l'esprit ?",
	"story":          "Quelle histoire vous êtes-vous racontée à partir de ces pensées ?",
	"echo":           "Est-ce que cette situation fait écho à un souvenir, peut-être de votre enfance ?",
	"need":           "Quel besoin profond n'a pas été comblé dans cette situation ?",
	"responsibility": "Avec le recul, qu'auriez-vous pu faire différemment pour prendre soin de vous ?",
}

const completeFeedback = "Analyse très complète et profonde. Vous pouvez passer à l'étape suivante."

// EmptyDepthAnalysis is the result for a blank draft, returned without a
// model call.
func EmptyDepthAnalysis() types.DepthAnalysis {
	return types.DepthAnalysis{
		DepthScore:      0,
		Feedback:        pointFeedback["situation"],
		CompletedPoints: []string{},
	}
}

// normalizeDepth turns the model's completed-point list into a full
// DepthAnalysis. Unknown keys and duplicates are dropped, the score is
// recomputed, and feedback targets the first missing point in rubric
// order. Models drift; the checklist does not.
func normalizeDepth(completed []string) types.DepthAnalysis {
	seen := make(map[string]bool, len(completed))
	for _, p := range completed {
		seen[p] = true
	}

	kept := make([]string, 0, len(rubricPoints))
	feedback := completeFeedback
	for _, p := range rubricPoints {
		if seen[p] {
			kept = append(kept, p)
		} else if feedback == completeFeedback {
			feedback = pointFeedback[p]
		}
	}

	score := int(math.Round(float64(len(kept)) / float64(len(rubricPoints)) * 100))
	return types.DepthAnalysis{
		DepthScore:      score,
		Feedback:        feedback,
		CompletedPoints: kept,
	}
}
