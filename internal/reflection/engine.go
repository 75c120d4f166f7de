// Package reflection turns a user's practice input into model-generated
// reflections, the H3 triage verdict, follow-up answers and the closing summary.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/HealBot/internal/genai"
	"github.com/BTreeMap/HealBot/internal/models"
	"github.com/BTreeMap/HealBot/internal/tone"
)

const (
	// DefaultTimeout bounds a single engine operation including retries.
	DefaultTimeout = 30 * time.Second
	// HealthCheckTimeout bounds the startup liveness probe.
	HealthCheckTimeout = 10 * time.Second
)

var (
	// ErrEmptyReflection is returned when the model produced no usable text.
	ErrEmptyReflection = errors.New("empty reflection")
	// ErrUnsupportedStage is returned by Reflect for stages that are not reflected.
	ErrUnsupportedStage = errors.New("stage is not reflected")
	// ErrEmptyQuestion is returned by AnswerFollowUp for a blank question.
	ErrEmptyQuestion = errors.New("question cannot be empty")
)

// Opts configures an Engine.
type Opts struct {
	Language string
	ToneTags []string
	Timeout  time.Duration
}

// Option configures an Engine.
type Option func(*Opts)

// WithLanguage sets the reply language.
func WithLanguage(lang string) Option {
	return func(o *Opts) { o.Language = lang }
}

// WithToneTags sets the whitelisted tone tags applied to every prompt.
func WithToneTags(tags []string) Option {
	return func(o *Opts) { o.ToneTags = tags }
}

// WithTimeout bounds each engine operation.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Engine is a stateless wrapper over a text generator.
type Engine struct {
	gen       genai.Generator
	toneGuide string
	timeout   time.Duration
}

// NewEngine builds an Engine over gen.
func NewEngine(gen genai.Generator, opts ...Option) *Engine {
	cfg := Opts{Language: tone.DefaultLanguage, ToneTags: tone.DefaultTags, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	tags, rejected := tone.Validate(cfg.ToneTags)
	if len(rejected) > 0 {
		slog.Warn("reflection.NewEngine: ignoring tone tags", "rejected", rejected)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("reflection.NewEngine", "language", cfg.Language, "toneTags", tone.Sorted(tags), "timeout", cfg.Timeout)
	return &Engine{
		gen:       gen,
		toneGuide: tone.BuildToneGuide(tags, cfg.Language),
		timeout:   cfg.Timeout,
	}
}

func (e *Engine) generate(ctx context.Context, op, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()
	out, err := e.gen.Generate(ctx, system, user)
	if err != nil {
		slog.Error("Engine."+op+" failed", "error", err, "elapsed", time.Since(start))
		return "", fmt.Errorf("%s: %w", op, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyReflection)
	}
	slog.Debug("Engine."+op+" succeeded", "elapsed", time.Since(start), "chars", len(out))
	return out, nil
}

// Reflect reflects the user's text for stage E, A or L.
func (e *Engine) Reflect(ctx context.Context, stage models.Stage, userText string, history models.History) (string, error) {
	if stage == models.StageH || !stage.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedStage, stage)
	}
	return e.generate(ctx, "Reflect", e.reflectSystemPrompt(stage), reflectUserPrompt(stage, userText, history))
}

// Triage classifies the three H answers. Unparseable output is MIXED.
func (e *Engine) Triage(ctx context.Context, body, mind, selfAssessment string) (TriageResult, error) {
	out, err := e.generate(ctx, "Triage", e.triageSystemPrompt(), triageUserPrompt(body, mind, selfAssessment))
	if err != nil {
		return TriageResult{}, err
	}
	res := ParseTriage(out)
	if !res.Parsed {
		slog.Warn("Engine.Triage: no status marker, falling back to MIXED")
	}
	return res, nil
}

// AnswerFollowUp answers a question asked between steps.
func (e *Engine) AnswerFollowUp(ctx context.Context, stage models.Stage, question string, history models.History) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	return e.generate(ctx, "AnswerFollowUp", e.answerSystemPrompt(stage), answerUserPrompt(question, history))
}

// Summarize writes the closing summary over the full history.
func (e *Engine) Summarize(ctx context.Context, history models.History) (string, error) {
	return e.generate(ctx, "Summarize", e.summarizeSystemPrompt(), summarizeUserPrompt(history))
}

// HealthCheck is a best-effort liveness probe bounded by HealthCheckTimeout.
func (e *Engine) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	if _, err := e.gen.Generate(ctx, "Reply with the single word OK.", "ping"); err != nil {
		slog.Warn("Engine.HealthCheck failed", "error", err)
		return false
	}
	return true
}
