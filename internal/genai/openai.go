package genai

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = string(openai.ChatModelGPT4oMini)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completions service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat chatService
	cfg  Opts
}

var _ Generator = (*Client)(nil)

// NewClient initializes an OpenAI-backed Generator. WithAPIKey is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := applyOpts(DefaultOpenAIModel, opts)
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient: OpenAI client created", "model", cfg.Model, "baseURL_set", cfg.BaseURL != "")
	return &Client{chat: completionsAdapter{svc: &cli.Chat.Completions}, cfg: cfg}, nil
}

// Generate sends a system and user message and returns the first choice's content.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature:         openai.Float(c.cfg.Temperature),
		MaxCompletionTokens: openai.Int(c.cfg.MaxTokens),
	}
	return generateWithRetry(ctx, c.cfg, "OpenAI", func(ctx context.Context) (string, error) {
		resp, err := c.chat.Create(ctx, params)
		writeDebugLog(c.cfg, "Generate", params, resp, err)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", ErrNoChoicesReturned
		}
		return resp.Choices[0].Message.Content, nil
	})
}
