package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/solacelabs/tandem/internal/types"
)

// Compile-time interface check
var _ Generator = (*Gemini)(nil)

// contentService defines the interface for generating model content.
// This abstraction enables testing without calling the real Gemini API.
type contentService interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements the generation pipeline using Google's Gemini API.
// The fast model serves depth analysis, translation, and titling; the
// deep model serves the six-section introspection.
type Gemini struct {
	models    contentService
	fastModel string
	deepModel string
}

// NewGemini creates a Gemini-backed generator.
func NewGemini(ctx context.Context, apiKey, fastModel, deepModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{
		models:    client.Models,
		fastModel: fastModel,
		deepModel: deepModel,
	}, nil
}

// AnalyzeDepth asks the fast model which introspection points the draft
// covers, then derives score and feedback locally.
func (g *Gemini) AnalyzeDepth(ctx context.Context, annoyance string) (types.DepthAnalysis, error) {
	if strings.TrimSpace(annoyance) == "" {
		return EmptyDepthAnalysis(), nil
	}

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"completed_points": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Keys of the introspection points the text explicitly covers.",
			},
		},
		Required: []string{"completed_points"},
	}

	var out struct {
		CompletedPoints []string `json:"completed_points"`
	}
	if err := g.generateJSON(ctx, g.fastModel, depthSystemPrompt, depthUserPrompt(annoyance), schema, &out); err != nil {
		return types.DepthAnalysis{}, err
	}
	return normalizeDepth(out.CompletedPoints), nil
}

// Introspect runs the deep model over the completed annoyance.
func (g *Gemini) Introspect(ctx context.Context, annoyance string, author, partner types.Member) (types.Introspection, error) {
	section := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":       {Type: genai.TypeString},
			"content":     {Type: genai.TypeString},
			"explanation": {Type: genai.TypeString},
		},
		Required: []string{"title", "content", "explanation"},
	}
	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"story":             section,
			"underlyingEmotion": section,
			"unmetNeed":         section,
			"mentalMechanism":   section,
			"childhoodEcho":     section,
			"personalPower":     section,
		},
		Required: []string{"story", "underlyingEmotion", "unmetNeed", "mentalMechanism", "childhoodEcho", "personalPower"},
	}

	var out types.Introspection
	err := g.generateJSON(ctx, g.deepModel,
		introspectionSystemPrompt(author, partner),
		introspectionUserPrompt(annoyance, author),
		schema, &out)
	if err != nil {
		return types.Introspection{}, err
	}
	return out, nil
}

// Translate reframes the introspection for the partner. Urgent content
// short-circuits before any model call.
func (g *Gemini) Translate(ctx context.Context, annoyance string, intro types.Introspection, author, partner types.Member) (types.Translation, error) {
	if err := checkUrgent(annoyance, partner); err != nil {
		return types.Translation{}, err
	}

	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"validation": {Type: genai.TypeString},
			"need":       {Type: genai.TypeString},
		},
		Required: []string{"validation", "need"},
	}

	var out types.Translation
	err := g.generateJSON(ctx, g.fastModel,
		translationSystemPrompt(author, partner),
		translationUserPrompt(annoyance, intro, author, partner),
		schema, &out)
	if err != nil {
		return types.Translation{}, err
	}
	return out, nil
}

// Title summarizes the card in a few words.
func (g *Gemini) Title(ctx context.Context, annoyance, translatedNeed string) (string, error) {
	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": {Type: genai.TypeString, Description: "A short, evocative title in French, max 8 words."},
		},
		Required: []string{"title"},
	}

	var out struct {
		Title string `json:"title"`
	}
	if err := g.generateJSON(ctx, g.fastModel, titleSystemPrompt, titleUserPrompt(annoyance, translatedNeed), schema, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// generateJSON issues a structured-output request and decodes the JSON
// response into out.
func (g *Gemini) generateJSON(ctx context.Context, model, system, prompt string, schema *genai.Schema, out any) error {
	resp, err := g.models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
	})
	if err != nil {
		return classifyGeminiError(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return fmt.Errorf("gemini returned an empty response")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to decode gemini response: %w", err)
	}
	return nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 401, 403:
			return fmt.Errorf("%w: %s", ErrInvalidCredential, apiErr.Message)
		}
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
