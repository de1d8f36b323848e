package scoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/jason-s-yu/promptquest/internal/models"
)

const (
	defaultRegion = "europe-west1"
	defaultModel  = "gemini-2.5-flash"
)

const rubricPrompt = `You are a strict image-prompt evaluator. A user was shown an image and wrote a prompt to describe it.

User's prompt: %q

Score this prompt against the image using this exact rubric:
- Subject accuracy (0-30 pts): Does the prompt correctly identify the main subject(s) visible?
- Visual details (0-25 pts): Are specific colors, textures, lighting conditions described correctly?
- Mood & atmosphere (0-20 pts): Does the prompt capture the emotional tone and feel of the image?
- Composition & framing (0-15 pts): Are spatial layout, perspective, and framing addressed?
- Language precision (0-10 pts): Is the language specific and detailed rather than generic?

Score each criterion strictly, add the sub-scores for the total, and write exactly one sentence of
feedback naming image elements the user got right and missed.

Respond ONLY with this JSON: {"score": <integer total>, "feedback": "<one specific sentence>"}`

const analysisPrompt = `Two players described the attached image in a prompt-writing duel.

Player 1 (score %d): %q
Player 2 (score %d): %q

In at most three sentences, explain as a neutral judge why the higher-scoring prompt matched the
image better, or why they tied. Plain text only.`

// GeminiConfig selects the backend. Either Project (Vertex AI) or APIKey (Gemini API) must be set.
type GeminiConfig struct {
	Project string
	Region  string
	APIKey  string
	Model   string
}

// GeminiOracle scores prompts with a Gemini vision model. It also implements Analyst.
type GeminiOracle struct {
	client    *genai.Client
	modelName string
	images    *ImageFetcher
}

// NewGeminiOracle creates the client using Application Default Credentials for Vertex AI,
// or the API key for the Gemini API backend.
func NewGeminiOracle(ctx context.Context, cfg GeminiConfig) (*GeminiOracle, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		region := cfg.Region
		if region == "" {
			region = defaultRegion
		}
		cc.Project = cfg.Project
		cc.Location = region
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("%w: no gemini project or api key configured", ErrUnavailable)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &GeminiOracle{
		client:    client,
		modelName: model,
		images:    NewImageFetcher(),
	}, nil
}

// Score sends the image inline together with the rubric and parses the JSON verdict.
func (g *GeminiOracle) Score(ctx context.Context, image models.ImageRef, prompt string) (Evaluation, error) {
	data, mimeType, err := g.images.Fetch(ctx, image.URL)
	if err != nil {
		return Evaluation{}, err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: fmt.Sprintf(rubricPrompt, prompt)},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			},
		}},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0.3)),
			MaxOutputTokens:  400,
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return Evaluation{}, classify(ctx, err)
	}

	text := resp.Text()
	if text == "" {
		return Evaluation{}, fmt.Errorf("%w: empty gemini response", ErrMalformedResponse)
	}
	return ParseEvaluation(text)
}

// Analyze asks the model for a short judge's comparison of both prompts.
func (g *GeminiOracle) Analyze(ctx context.Context, image models.ImageRef, p1, p2 models.PlayerSlot) (string, error) {
	if p1.Score == nil || p2.Score == nil || p1.Prompt == nil || p2.Prompt == nil {
		return "", errors.New("analysis requires both scored prompts")
	}
	data, mimeType, err := g.images.Fetch(ctx, image.URL)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: fmt.Sprintf(analysisPrompt, *p1.Score, *p1.Prompt, *p2.Score, *p2.Prompt)},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			},
		}},
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(float32(0.4)),
			MaxOutputTokens: 300,
		},
	)
	if err != nil {
		return "", classify(ctx, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty gemini analysis", ErrMalformedResponse)
	}
	return text, nil
}

// classify maps transport errors onto the scoring error classes.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("gemini generate: %w", ctx.Err())
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if isRateLimitMessage(err.Error()) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// rateLimitMarkers are matched as phrases. A bare "rate" would also match the
// ":generateContent" endpoint carried by every transport error.
var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"rate-limit",
	"ratelimit",
	"rate_limit",
	"too many requests",
	"quota",
	"resource_exhausted",
	"resource exhausted",
}

func isRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
