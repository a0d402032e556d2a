package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/solacelabs/tandem/internal/types"
)

// Compile-time interface check
var _ Generator = (*OpenAI)(nil)

// chatService defines the interface for making chat completion calls.
// This abstraction enables testing without calling the real OpenAI API.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI implements the generation pipeline using OpenAI's chat API in
// JSON mode. Response shape is enforced by the prompts rather than a
// schema, so decoded values pass through the same normalization as the
// Gemini provider.
type OpenAI struct {
	completions chatService
	fastModel   string
	deepModel   string
}

// NewOpenAI creates an OpenAI-backed generator.
func NewOpenAI(apiKey, fastModel, deepModel string) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{
		completions: client.Chat.Completions,
		fastModel:   fastModel,
		deepModel:   deepModel,
	}
}

func (o *OpenAI) AnalyzeDepth(ctx context.Context, annoyance string) (types.DepthAnalysis, error) {
	if strings.TrimSpace(annoyance) == "" {
		return EmptyDepthAnalysis(), nil
	}

	var out struct {
		CompletedPoints []string `json:"completed_points"`
	}
	if err := o.completeJSON(ctx, o.fastModel, depthSystemPrompt, depthUserPrompt(annoyance), &out); err != nil {
		return types.DepthAnalysis{}, err
	}
	return normalizeDepth(out.CompletedPoints), nil
}

func (o *OpenAI) Introspect(ctx context.Context, annoyance string, author, partner types.Member) (types.Introspection, error) {
	var out types.Introspection
	err := o.completeJSON(ctx, o.deepModel,
		introspectionSystemPrompt(author, partner),
		introspectionUserPrompt(annoyance, author),
		&out)
	if err != nil {
		return types.Introspection{}, err
	}
	return out, nil
}

func (o *OpenAI) Translate(ctx context.Context, annoyance string, intro types.Introspection, author, partner types.Member) (types.Translation, error) {
	if err := checkUrgent(annoyance, partner); err != nil {
		return types.Translation{}, err
	}

	var out types.Translation
	err := o.completeJSON(ctx, o.fastModel,
		translationSystemPrompt(author, partner),
		translationUserPrompt(annoyance, intro, author, partner),
		&out)
	if err != nil {
		return types.Translation{}, err
	}
	return out, nil
}

func (o *OpenAI) Title(ctx context.Context, annoyance, translatedNeed string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	if err := o.completeJSON(ctx, o.fastModel, titleSystemPrompt, titleUserPrompt(annoyance, translatedNeed), &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

func (o *OpenAI) completeJSON(ctx context.Context, model, system, prompt string, out any) error {
	resp, err := o.completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.F(model),
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		}),
		ResponseFormat: openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONObjectParam{
				Type: openai.F(openai.ResponseFormatJSONObjectTypeJSONObject),
			},
		),
	})
	if err != nil {
		return classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return fmt.Errorf("openai returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return fmt.Errorf("openai returned an empty response")
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to decode openai response: %w", err)
	}
	return nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return fmt.Errorf("%w: %s", ErrInvalidCredential, apiErr.Message)
		}
	}
	return fmt.Errorf("openai request failed: %w", err)
}
