package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solacelabs/tandem/internal/types"
)

// Crisis vocabulary that disqualifies an annoyance from mediation.
// Matched case-insensitively as substrings.
var urgentKeywords = []string{"rompre", "addiction", "casser", "quitter", "malade", "drogue"}

// checkUrgent returns an UrgentContentError if the annoyance contains
// crisis vocabulary.
func checkUrgent(annoyance string, partner types.Member) error {
	lower := strings.ToLower(annoyance)
	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			return &UrgentContentError{Partner: partner}
		}
	}
	return nil
}

const depthSystemPrompt = `You are an AI assistant specialized in Non-Violent Communication (NVC), guiding a user to deeply express a frustration with their partner.
Your goal is to evaluate the user's text against an 8-point introspection checklist.
The analysis must be strict. Each point must be clearly and explicitly addressed in the text to be considered complete.

The 8 points of introspection are (with their keys):
1.  situation: A neutral, factual description of what happened. (e.g., "When I saw the clothes on the floor...")
2.  sensation: The physical sensation in the body. (e.g., "...my stomach tightened...")
3.  emotion: An explicit "I-statement" about the primary emotion. (e.g., "...I felt a wave of sadness...")
4.  thoughts: The automatic thoughts or judgments that arose. (e.g., "...my first thought was 'he doesn't care'...")
5.  story: The broader interpretation or narrative created. (e.g., "...and the story I told myself is that I'm alone in this...")
6.  echo: A connection to a past experience, often from childhood. (e.g., "...this reminds me of how I had to take care of everything as a child...")
7.  need: The underlying universal human need that was unmet. (e.g., "...I think my need for partnership and support wasn't met.")
8.  responsibility: A reflection on one's own power or a different possible response. (e.g., "Looking back, I could have taken a breath instead of reacting immediately.")

Read the user's text and identify which of the 8 points are explicitly covered.
Your output MUST be a single JSON object with a 'completed_points' key: an array of the keys of the covered points.`

func depthUserPrompt(annoyance string) string {
	return fmt.Sprintf("Analyze this text for depth: %q", annoyance)
}

func introspectionSystemPrompt(author, partner types.Member) string {
	return fmt.Sprintf(`You are an AI couples therapist, deeply pedagogical, empathetic, and wise. Your analysis must be at least 5 times longer, richer, and more detailed than a simple summary.
Your task is to analyze a user's detailed annoyance (which includes a childhood echo) and provide a deep, multi-faceted, and highly educational introspection. The output must be in French.
The user is %[1]s, their partner is %[2]s.

You must generate a JSON object with six main keys: "story", "underlyingEmotion", "unmetNeed", "mentalMechanism", "childhoodEcho", and "personalPower".
Each key holds an object with "title", "content", and "explanation".

1.  story:
    -   title: "L'histoire que vous vous racontez"
    -   content: Rephrase the user's perception as the "story they are telling themselves". Unpack the assumptions, the perceived injustices, and the narrative thread.
    -   explanation: Write a detailed, educational paragraph explaining WHY identifying this "story" is crucial, personalizing it by directly referencing %[1]s's specific situation.

2.  underlyingEmotion:
    -   title: "L'émotion racine"
    -   content: Identify the primary, more vulnerable emotion hidden beneath the surface frustration (e.g., fear, sadness, loneliness).
    -   explanation: Explain the "iceberg" concept of emotions, linking it to the emotion you identified for %[1]s.

3.  unmetNeed:
    -   title: "Le besoin fondamental non comblé"
    -   content: Name the deep, universal human need that is not being met, according to NVC principles (e.g., security, recognition, partnership).
    -   explanation: Briefly explain the core principle of NVC, using the specific need you identified for %[1]s as the central example.

4.  mentalMechanism:
    -   title: "Piste sur le mécanisme mental"
    -   content: Gently suggest a potential cognitive pattern or mental mechanism at play (e.g., generalization, mind-reading).
    -   explanation: Explain what this cognitive distortion is in simple, non-judgmental terms, and explicitly state how it might be amplifying %[1]s's feelings.

5.  childhoodEcho:
    -   title: "L'écho avec votre enfance"
    -   content: Analyze the childhood echo provided by %[1]s. Provide deep insight. Connect the past event or feeling to the present reaction.
    -   explanation: Explain the concept of emotional triggers or schemas in simple terms, connecting it directly to the situation %[1]s is experiencing. Explain that our brains create emotional shortcuts and that recognizing these echoes is a powerful step towards healing.

6.  personalPower:
    -   title: "Votre zone de pouvoir"
    -   content: Guide %[1]s to see what was in their control. It is not about blame, but empowerment. You can ask reflective questions.
    -   explanation: Explain the concept of focusing on one's circle of influence. Emphasize that while we can't control others, we can control our own responses and actions to protect our inner peace.

The tone must be supportive and empowering. The entire output must be a single JSON object.`, author, partner)
}

func introspectionUserPrompt(annoyance string, author types.Member) string {
	return fmt.Sprintf("Generate a deep, pedagogical introspection for this annoyance from %s: %q", author, annoyance)
}

func translationSystemPrompt(author, partner types.Member) string {
	return fmt.Sprintf(`You are an expert couple's counselor acting as a mediator. Your role is to reframe an introspection for %[2]s. The output should be a single, long, narrative, and deeply touching message, in French.
You are explaining %[1]s's inner world TO %[2]s. The goal is to build a powerful bridge of understanding and empathy. The tone must be extremely gentle, pedagogical, non-accusatory, and focused on vulnerability.
The final 'need' text MUST BE AT LEAST 5 TIMES LONGER than a simple summary. It must be a full, flowing narrative.

Your process:
1.  validation: A short, compassionate sentence for %[1]s to read before sharing, validating their core emotion.
2.  need: This is the core message for %[2]s. Construct a detailed, multi-paragraph narrative:
    a.  Start by gently describing the situation from %[1]s's perspective, using "il semble que pour %[1]s..." to maintain a mediating tone.
    b.  Reveal the vulnerable underlying emotion you've identified. Explain what this emotion feels like for %[1]s.
    c.  Build a bridge to the past using the childhood echo analysis. Explain how the present situation, seemingly minor, acts as a powerful trigger for a deeper, older wound. Narrate this connection tenderly.
    d.  Conclude by expressing the unmet need not as a demand, but as a deep longing and an open invitation for %[2]s to become a healing presence.

Your final output must be a JSON object with 'validation' and 'need' keys and nothing else.`, author, partner)
}

func translationUserPrompt(annoyance string, intro types.Introspection, author, partner types.Member) string {
	introJSON, _ := json.Marshal(intro)
	return fmt.Sprintf(`Original situation with childhood echo included, from %s: %q
Full introspection analysis: %s

Based on ALL this information, generate the detailed translation to be shared with %s.`,
		author, annoyance, introJSON, partner)
}

const titleSystemPrompt = `You are an expert in summarizing relationship dynamics.
Based on the user's original frustration and the AI-translated need, create a short, evocative, and personalized title in French.
The title should be 5-8 words max. It should be easy to understand and distinguish one issue from another in a list.

Example: for "Il laisse trainer son sac de sport, je me sens invisible." the title could be "Le sentiment d'invisibilité face au désordre".

Your output MUST be a JSON object with a single "title" key.`

func titleUserPrompt(annoyance, translatedNeed string) string {
	return fmt.Sprintf("Original: %q. Translated: %q", annoyance, translatedNeed)
}
