// Package genai provides text generation over hosted language models.
//
// A Generator turns a system prompt and a user prompt into text. Backends
// exist for OpenAI (default), Gemini and Anthropic; all share the same
// timeout, bounded retry and debug logging behaviour.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Defaults shared by every backend.
const (
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 500
	DefaultTimeout      = 30 * time.Second
	DefaultAttempts     = 2
	DefaultRetryBackoff = 500 * time.Millisecond
)

var (
	// ErrNoChoicesReturned is returned when the model response carries no candidates.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyResponse is returned when the model returns only whitespace.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrMissingAPIKey is returned when a backend is built without credentials.
	ErrMissingAPIKey = errors.New("API key not set")
)

// Generator produces text from a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Opts holds configuration shared by the backends.
type Opts struct {
	APIKey       string
	Model        string
	BaseURL      string
	Temperature  float64
	MaxTokens    int64
	Timeout      time.Duration
	Attempts     int
	RetryBackoff time.Duration
	DebugMode    bool
	StateDir     string
}

// Option configures a backend.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL points the OpenAI backend at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens bounds the output length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRetries sets the total number of attempts per call.
func WithRetries(attempts int) Option {
	return func(o *Opts) { o.Attempts = attempts }
}

// WithRetryBackoff sets the fixed delay between attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Opts) { o.RetryBackoff = d }
}

// WithDebugMode writes every call to <stateDir>/debug as JSON.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory used for debug logs.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

func applyOpts(defaultModel string, opts []Option) Opts {
	cfg := Opts{
		Model:        defaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		Timeout:      DefaultTimeout,
		Attempts:     DefaultAttempts,
		RetryBackoff: DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// New builds the backend named by provider. An empty provider selects OpenAI.
func New(ctx context.Context, provider string, opts ...Option) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderOpenAI:
		return NewClient(opts...)
	case ProviderGemini:
		return NewGeminiClient(ctx, opts...)
	case ProviderAnthropic:
		return NewAnthropicClient(opts...)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", provider)
	}
}

// callFunc performs one attempt against a backend.
type callFunc func(ctx context.Context) (string, error)

// generateWithRetry runs call up to cfg.Attempts times with a fixed backoff in
// between. Cancellation of the parent context stops retrying.
func generateWithRetry(ctx context.Context, cfg Opts, backend string, call callFunc) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout(ctx, cfg, attempt))
		out, err := call(attemptCtx)
		cancel()
		if err == nil {
			out = strings.TrimSpace(out)
			if out == "" {
				err = ErrEmptyResponse
			} else {
				return out, nil
			}
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s generate: %w", backend, ctx.Err())
		}
		slog.Warn(backend+" generate attempt failed", "attempt", attempt, "of", cfg.Attempts, "error", err)
		if attempt < cfg.Attempts && cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%s generate: %w", backend, ctx.Err())
			case <-time.After(cfg.RetryBackoff):
			}
		}
	}
	return "", fmt.Errorf("%s generate failed after %d attempts: %w", backend, cfg.Attempts, lastErr)
}

// attemptTimeout is cfg.Timeout, shortened so the attempts still to run share
// whatever is left of the parent deadline.
func attemptTimeout(ctx context.Context, cfg Opts, attempt int) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return cfg.Timeout
	}
	left := int64(cfg.Attempts - attempt + 1)
	share := (time.Until(deadline) - cfg.RetryBackoff*time.Duration(left-1)) / time.Duration(left)
	if share > 0 && share < cfg.Timeout {
		return share
	}
	return cfg.Timeout
}

// debugLogEntry is the JSON document written per call in debug mode.
type debugLogEntry struct {
	Timestamp string      `json:"timestamp"`
	Method    string      `json:"method"`
	Model     string      `json:"model"`
	Params    interface{} `json:"params"`
	Response  interface{} `json:"response"`
	Error     string      `json:"error,omitempty"`
}

// writeDebugLog records a call under <stateDir>/debug. Failures are logged and ignored.
func writeDebugLog(cfg Opts, method string, params, response interface{}, callErr error) {
	if !cfg.DebugMode || cfg.StateDir == "" {
		return
	}
	dir := filepath.Join(cfg.StateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("genai debug log: mkdir failed", "dir", dir, "error", err)
		return
	}
	now := time.Now()
	entry := debugLogEntry{
		Timestamp: now.Format(time.RFC3339Nano),
		Method:    method,
		Model:     cfg.Model,
		Params:    params,
		Response:  response,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai debug log: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%d.json", method, now.UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("genai debug log: write failed", "error", err)
	}
}
