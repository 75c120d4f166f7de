package genai

import (
	"context"
	"fmt"
	"log/slog"

	googlegenai "google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// contentService is the subset of the Gemini models API used here.
type contentService interface {
	GenerateContent(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.GenerateContentConfig) (*googlegenai.GenerateContentResponse, error)
}

// GeminiClient generates text with Google's Gemini API.
type GeminiClient struct {
	models contentService
	cfg    Opts
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini-backed Generator. WithAPIKey is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := applyOpts(DefaultGeminiModel, opts)
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := googlegenai.NewClient(ctx, &googlegenai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: googlegenai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	slog.Debug("genai.NewGeminiClient: client created", "model", cfg.Model)
	return &GeminiClient{models: client.Models, cfg: cfg}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	config := &googlegenai.GenerateContentConfig{
		SystemInstruction: googlegenai.NewContentFromText(systemPrompt, googlegenai.RoleUser),
		Temperature:       googlegenai.Ptr(float32(g.cfg.Temperature)),
		MaxOutputTokens:   int32(g.cfg.MaxTokens),
	}
	contents := googlegenai.Text(userPrompt)
	return generateWithRetry(ctx, g.cfg, "Gemini", func(ctx context.Context) (string, error) {
		resp, err := g.models.GenerateContent(ctx, g.cfg.Model, contents, config)
		writeDebugLog(g.cfg, "Generate", map[string]interface{}{"system": systemPrompt, "user": userPrompt}, resp, err)
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return "", ErrNoChoicesReturned
		}
		return resp.Text(), nil
	})
}
