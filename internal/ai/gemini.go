package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/utkarsh5026/dialogrelay/internal/logging"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini is a Backend that calls the Gemini generateContent API.
type Gemini struct {
	client *genai.Client
	model  string
	log    *logging.Logger
}

// NewGemini creates a Gemini backend. The key is required.
func NewGemini(ctx context.Context, cfg GeminiConfig, log *logging.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("ai: create gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  cfg.Model,
		log:    log.With("component", "gemini", "model", cfg.Model),
	}, nil
}

// Generate asks the model for the next line. The deadline comes from ctx.
func (g *Gemini) Generate(ctx context.Context, personality, language, conversation string) (Reply, error) {
	contents := ParseConversation(conversation)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, generationConfig(language, personality))
	if err != nil {
		return Reply{}, fmt.Errorf("ai: generate content: %w", err)
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return Reply{}, fmt.Errorf("%w: %s", ErrBlocked, fb.BlockReason)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
			return Reply{}, ErrBlocked
		}
		return Reply{}, ErrEmptyResponse
	}

	reply := ParseReply(text)
	g.log.Debug("gemini reply", "chars", len(reply.Text), "behavior", reply.Behavior)
	return reply, nil
}

func generationConfig(language, personality string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(Premise(language, personality), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.9),
		TopP:              genai.Ptr[float32](1),
		TopK:              genai.Ptr[float32](1),
		MaxOutputTokens:   800,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		},
	}
}

// Retryable reports whether a Generate error is worth another attempt:
// rate limiting, server-side failures and transient network errors.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
