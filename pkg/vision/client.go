// Package vision estimates meal nutrition from a photo or free-text
// description using the Anthropic API.
package vision

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Estimate is the model's nutrition guess for one meal.
type Estimate struct {
	Name       string  `json:"name"`
	Calories   float64 `json:"calories"`
	Protein    float64 `json:"protein_g"`
	Carbs      float64 `json:"carbs_g"`
	Fat        float64 `json:"fat_g"`
	Confidence float64 `json:"confidence"`
}

// Client defines the vision estimation operations used by the resolver.
type Client interface {
	// EstimateFromImage estimates nutrition from a base64-encoded JPEG.
	EstimateFromImage(ctx context.Context, imageB64 string) (*Estimate, error)
	// EstimateFromDescription estimates nutrition from a text description.
	EstimateFromDescription(ctx context.Context, description string) (*Estimate, error)
}

const systemPrompt = `You are a nutrition estimation service. Given a meal photo
or description, estimate the full meal's nutrition. Respond with ONLY a JSON
object, no prose and no markdown fences, with these exact keys:
{"name": string, "calories": number, "protein_g": number, "carbs_g": number,
"fat_g": number, "confidence": number}
confidence is your own certainty in [0,1]. Be conservative: unclear portions or
hidden ingredients must lower confidence.`

const defaultModel = "claude-haiku-4-5-20251001"

// ErrUnparseable is returned when the model output is not the expected JSON.
var ErrUnparseable = eris.New("vision: unparseable model output")

// messageService is the slice of the SDK the estimator needs.
type messageService interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Option configures the sdkClient.
type Option func(*sdkClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *sdkClient) {
		c.model = model
	}
}

// WithMaxConfidence caps the self-reported confidence. Vision estimates are
// never trusted above this ceiling regardless of what the model claims.
func WithMaxConfidence(max float64) Option {
	return func(c *sdkClient) {
		c.maxConfidence = max
	}
}

type sdkClient struct {
	messages      messageService
	model         string
	maxConfidence float64
}

// NewClient creates a vision client backed by the Anthropic SDK.
func NewClient(apiKey string, opts ...Option) Client {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	c := &sdkClient{
		messages:      &client.Messages,
		model:         defaultModel,
		maxConfidence: 0.75,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *sdkClient) EstimateFromImage(ctx context.Context, imageB64 string) (*Estimate, error) {
	if imageB64 == "" {
		return nil, eris.New("vision: empty image")
	}
	return c.estimate(ctx, sdk.NewUserMessage(
		sdk.NewImageBlockBase64("image/jpeg", imageB64),
		sdk.NewTextBlock("Estimate the nutrition of this meal."),
	))
}

func (c *sdkClient) EstimateFromDescription(ctx context.Context, description string) (*Estimate, error) {
	if description == "" {
		return nil, eris.New("vision: empty description")
	}
	return c.estimate(ctx, sdk.NewUserMessage(
		sdk.NewTextBlock("Estimate the nutrition of this meal: "+description),
	))
}

func (c *sdkClient) estimate(ctx context.Context, msg sdk.MessageParam) (*Estimate, error) {
	resp, err := c.messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 512,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{msg},
	})
	if err != nil {
		return nil, eris.Wrap(err, "vision: create message")
	}

	var text string
	for _, b := range resp.Content {
		if b.Type == "text" {
			text = b.Text
			break
		}
	}
	if text == "" {
		return nil, eris.Wrap(ErrUnparseable, "no text content")
	}

	est, err := parseEstimate(text)
	if err != nil {
		return nil, err
	}

	// Clamp the self-reported confidence to [0, ceiling].
	if est.Confidence < 0 {
		est.Confidence = 0
	}
	if est.Confidence > c.maxConfidence {
		est.Confidence = c.maxConfidence
	}
	return est, nil
}

// parseEstimate extracts the JSON object from the model output, tolerating
// stray markdown fences.
func parseEstimate(text string) (*Estimate, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Wrapf(ErrUnparseable, "no JSON object in %q", truncate(text, 80))
	}

	var est Estimate
	if err := json.Unmarshal([]byte(text[start:end+1]), &est); err != nil {
		return nil, eris.Wrapf(ErrUnparseable, "decode: %v", err)
	}
	if est.Calories < 0 || est.Protein < 0 || est.Carbs < 0 || est.Fat < 0 {
		return nil, eris.Wrap(ErrUnparseable, "negative macro values")
	}
	return &est, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
