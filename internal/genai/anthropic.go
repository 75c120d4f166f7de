package genai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// messageService is the subset of the Anthropic messages API used here.
type messageService interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...anthropicoption.RequestOption) (*anthropic.Message, error)
}

// AnthropicClient generates text with the Anthropic Messages API.
type AnthropicClient struct {
	messages messageService
	cfg      Opts
}

var _ Generator = (*AnthropicClient)(nil)

// NewAnthropicClient creates an Anthropic-backed Generator. WithAPIKey is required.
func NewAnthropicClient(opts ...Option) (*AnthropicClient, error) {
	cfg := applyOpts(DefaultAnthropicModel, opts)
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	reqOpts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(reqOpts...)
	slog.Debug("genai.NewAnthropicClient: client created", "model", cfg.Model)
	return &AnthropicClient{messages: &client.Messages, cfg: cfg}, nil
}

func (a *AnthropicClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   a.cfg.MaxTokens,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt))},
		Temperature: anthropic.Float(a.cfg.Temperature),
	}
	return generateWithRetry(ctx, a.cfg, "Anthropic", func(ctx context.Context) (string, error) {
		msg, err := a.messages.New(ctx, params)
		writeDebugLog(a.cfg, "Generate", params, msg, err)
		if err != nil {
			return "", err
		}
		if msg == nil || len(msg.Content) == 0 {
			return "", ErrNoChoicesReturned
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		return sb.String(), nil
	})
}
