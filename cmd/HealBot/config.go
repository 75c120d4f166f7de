package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/BTreeMap/HealBot/internal/api"
	"github.com/BTreeMap/HealBot/internal/flow"
	"github.com/BTreeMap/HealBot/internal/genai"
	"github.com/BTreeMap/HealBot/internal/reflection"
	"github.com/BTreeMap/HealBot/internal/store"
	"github.com/BTreeMap/HealBot/internal/tone"
	"github.com/BTreeMap/HealBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/HealBot/internal/util"
	"github.com/BTreeMap/HealBot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for HealBot state data
	DefaultStateDir = "/var/lib/healbot"
	// DefaultDBFileName is the default SQLite session database filename
	DefaultDBFileName = "healbot.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultSweepInterval is how often expired SQL sessions are purged
	DefaultSweepInterval = time.Minute
)

// Transports selectable with HEAL_TRANSPORT.
const (
	TransportNone     = "none"
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config holds environment configuration
type Config struct {
	StateDir      string
	StoreDSN      string
	SessionTTL    time.Duration
	SweepInterval time.Duration
	WritePolicy   string
	MinInput      int
	CrisisLine    string

	LLMProvider  string
	OpenAIKey    string
	GeminiKey    string
	AnthropicKey string
	LLMModel     string
	LLMBaseURL   string
	LLMTimeout   time.Duration
	LLMDebug     bool
	Language     string
	ToneTags     []string

	Transport        string
	WhatsAppDSN      string
	QROutput         string
	NumericCode      bool
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	TwilioWebhookURL string

	APIAddr       string
	AllowedOrigin string
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Config{
		StateDir:      os.Getenv("HEAL_STATE_DIR"),
		StoreDSN:      os.Getenv("HEAL_STORE_DSN"),
		SessionTTL:    util.ParseDurationEnv("HEAL_SESSION_TTL", flow.DefaultSessionTTL),
		SweepInterval: util.ParseDurationEnv("HEAL_SWEEP_INTERVAL", DefaultSweepInterval),
		WritePolicy:   os.Getenv("HEAL_WRITE_POLICY"),
		MinInput:      util.ParseIntEnv("HEAL_MIN_INPUT_LENGTH", flow.DefaultMinInputLength),
		CrisisLine:    os.Getenv("HEAL_CRISIS_LINE"),

		LLMProvider:  os.Getenv("HEAL_LLM_PROVIDER"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		GeminiKey:    os.Getenv("GEMINI_API_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		LLMModel:     os.Getenv("HEAL_LLM_MODEL"),
		LLMBaseURL:   os.Getenv("HEAL_LLM_BASE_URL"),
		LLMTimeout:   util.ParseDurationEnv("HEAL_LLM_TIMEOUT", genai.DefaultTimeout),
		LLMDebug:     util.ParseBoolEnv("HEAL_LLM_DEBUG", false),
		Language:     os.Getenv("HEAL_LANGUAGE"),
		ToneTags:     util.ParseListEnv("HEAL_TONE_TAGS", tone.DefaultTags),

		Transport:        strings.ToLower(strings.TrimSpace(os.Getenv("HEAL_TRANSPORT"))),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		NumericCode:      util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),

		APIAddr:       os.Getenv("API_ADDR"),
		AllowedOrigin: os.Getenv("HEAL_ALLOWED_ORIGIN"),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
		slog.Debug("No HEAL_STATE_DIR set, using default", "default_state_dir", cfg.StateDir)
	}
	if cfg.StoreDSN == "" {
		cfg.StoreDSN = os.Getenv("DATABASE_URL")
		if cfg.StoreDSN != "" {
			slog.Debug("Using DATABASE_URL as HEAL_STORE_DSN", "dsn_set", true)
		}
	}
	if cfg.StoreDSN == "" {
		cfg.StoreDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No store DSN provided, defaulting to SQLite", "sqlite_path", cfg.StoreDSN)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = defaultWhatsAppDSN(cfg)
	}
	if cfg.Language == "" {
		cfg.Language = tone.DefaultLanguage
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportNone
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = api.DefaultAddr
	}

	slog.Debug("environment variables loaded",
		"HEAL_STATE_DIR", cfg.StateDir,
		"HEAL_STORE_DSN_TYPE", store.DetectDSNType(cfg.StoreDSN),
		"HEAL_SESSION_TTL", cfg.SessionTTL,
		"HEAL_WRITE_POLICY", cfg.WritePolicy,
		"HEAL_LLM_PROVIDER", cfg.LLMProvider,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"GEMINI_API_KEY_SET", cfg.GeminiKey != "",
		"ANTHROPIC_API_KEY_SET", cfg.AnthropicKey != "",
		"HEAL_TRANSPORT", cfg.Transport,
		"TWILIO_ACCOUNT_SID_SET", cfg.TwilioSID != "",
		"API_ADDR", cfg.APIAddr)

	return cfg
}

// defaultWhatsAppDSN shares a Postgres session database with whatsmeow and
// otherwise keeps the device store in its own SQLite file. whatsmeow needs
// foreign keys enabled on SQLite.
func defaultWhatsAppDSN(cfg Config) string {
	if store.DetectDSNType(cfg.StoreDSN) == store.DSNTypePostgres {
		return cfg.StoreDSN
	}
	return "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// bindFlags registers persistent flags that default to the environment values.
func bindFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.PersistentFlags()
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for HealBot data (overrides $HEAL_STATE_DIR)")
	f.StringVar(&cfg.StoreDSN, "store-dsn", cfg.StoreDSN, "session store DSN: postgres://, redis://, memory or a SQLite path (overrides $HEAL_STORE_DSN or $DATABASE_URL)")
	f.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "session expiry (overrides $HEAL_SESSION_TTL)")
	f.StringVar(&cfg.WritePolicy, "write-policy", cfg.WritePolicy, "session write failure policy: best_effort or fail_closed (overrides $HEAL_WRITE_POLICY)")
	f.StringVar(&cfg.LLMProvider, "llm-provider", cfg.LLMProvider, "text generation backend: openai, gemini or anthropic (overrides $HEAL_LLM_PROVIDER)")
	f.StringVar(&cfg.LLMModel, "llm-model", cfg.LLMModel, "model name (overrides $HEAL_LLM_MODEL)")
	f.StringVar(&cfg.LLMBaseURL, "llm-base-url", cfg.LLMBaseURL, "OpenAI-compatible base URL (overrides $HEAL_LLM_BASE_URL)")
	f.DurationVar(&cfg.LLMTimeout, "llm-timeout", cfg.LLMTimeout, "timeout per model call (overrides $HEAL_LLM_TIMEOUT)")
	f.StringVar(&cfg.Language, "language", cfg.Language, "reply language (overrides $HEAL_LANGUAGE)")
	f.StringSliceVar(&cfg.ToneTags, "tone", cfg.ToneTags, "tone tags (overrides $HEAL_TONE_TAGS)")
}

// ensureDirectoriesExist creates the state directory and the parent of a SQLite file store.
func ensureDirectoriesExist(cfg Config) error {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", cfg.StateDir, err)
	}
	slog.Debug("State directory ensured", "path", cfg.StateDir)
	for _, dsn := range []string{cfg.StoreDSN, cfg.WhatsAppDSN} {
		if dsn == "" || store.DetectDSNType(dsn) != store.DSNTypeSQLite || strings.HasPrefix(dsn, ":memory:") {
			continue
		}
		path := strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	return nil
}

// apiKeyFor returns the credential matching the configured provider.
func (c Config) apiKeyFor() string {
	switch strings.ToLower(strings.TrimSpace(c.LLMProvider)) {
	case genai.ProviderGemini:
		return c.GeminiKey
	case genai.ProviderAnthropic:
		return c.AnthropicKey
	default:
		return c.OpenAIKey
	}
}

func buildStoreOptions(cfg Config) []store.Option {
	return []store.Option{store.WithDedupRetention(store.DefaultDedupRetention)}
}

func buildGenAIOptions(cfg Config) []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(cfg.apiKeyFor()),
		genai.WithTimeout(cfg.LLMTimeout),
	}
	if cfg.LLMModel != "" {
		opts = append(opts, genai.WithModel(cfg.LLMModel))
	}
	if cfg.LLMBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(cfg.LLMBaseURL))
	}
	if cfg.LLMDebug {
		opts = append(opts, genai.WithDebugMode(true), genai.WithStateDir(cfg.StateDir))
	}
	return opts
}

func buildReflectionOptions(cfg Config) []reflection.Option {
	return []reflection.Option{
		reflection.WithLanguage(cfg.Language),
		reflection.WithToneTags(cfg.ToneTags),
		reflection.WithTimeout(engineBudget(cfg)),
	}
}

// engineBudget bounds one engine operation: every attempt plus the backoffs between them.
func engineBudget(cfg Config) time.Duration {
	attempts := time.Duration(genai.DefaultAttempts)
	return cfg.LLMTimeout*attempts + genai.DefaultRetryBackoff*(attempts-1)
}

// buildFlowOptions fails on an unknown write policy rather than silently
// picking one.
func buildFlowOptions(cfg Config) ([]flow.Option, error) {
	policy, err := flow.ParseWriteFailurePolicy(cfg.WritePolicy)
	if err != nil {
		return nil, err
	}
	opts := []flow.Option{
		flow.WithWriteFailurePolicy(policy),
		flow.WithSessionTTL(cfg.SessionTTL),
		flow.WithMinInputLength(cfg.MinInput),
		flow.WithEngineTimeout(engineBudget(cfg)),
	}
	if cfg.CrisisLine != "" {
		opts = append(opts, flow.WithCrisisLine(cfg.CrisisLine))
	}
	return opts, nil
}

func buildWhatsAppOptions(cfg Config) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
	if cfg.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(cfg.QROutput))
	}
	if cfg.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

func buildTwilioOptions(cfg Config) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(cfg.TwilioSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioToken),
		twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
	}
}

func buildAPIOptions(cfg Config) []api.Option {
	opts := []api.Option{api.WithAddr(cfg.APIAddr)}
	if cfg.AllowedOrigin != "" {
		opts = append(opts, api.WithAllowedOrigin(cfg.AllowedOrigin))
	}
	return opts
}
