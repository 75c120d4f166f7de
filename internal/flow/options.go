package flow

import (
	"fmt"
	"strings"
	"time"
)

// WriteFailurePolicy decides what the user sees when a session write fails.
type WriteFailurePolicy string

const (
	// WriteBestEffort sends the reply anyway and logs the failure.
	WriteBestEffort WriteFailurePolicy = "best_effort"
	// WriteFailClosed replaces the reply with an apology and drops the session.
	WriteFailClosed WriteFailurePolicy = "fail_closed"
)

// ParseWriteFailurePolicy parses a policy name. Empty means best_effort.
func ParseWriteFailurePolicy(s string) (WriteFailurePolicy, error) {
	switch WriteFailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", WriteBestEffort:
		return WriteBestEffort, nil
	case WriteFailClosed:
		return WriteFailClosed, nil
	}
	return "", fmt.Errorf("unknown write failure policy %q (want best_effort or fail_closed)", s)
}

// Defaults.
const (
	DefaultMinInputLength = 10
	DefaultSessionTTL     = 3600 * time.Second
	DefaultStoreTimeout   = 5 * time.Second
	DefaultEngineTimeout  = 30 * time.Second
	DefaultCrisisLine     = "If you are in danger or thinking about harming yourself, call your local emergency number or a crisis line right now."
)

// Opts holds configuration for the Machine.
type Opts struct {
	MinInputLength int
	WritePolicy    WriteFailurePolicy
	SessionTTL     time.Duration
	StoreTimeout   time.Duration
	EngineTimeout  time.Duration
	CrisisLine     string
	Now            func() time.Time
}

// Option configures the Machine.
type Option func(*Opts)

// WithMinInputLength sets the minimum step input length in code points.
func WithMinInputLength(n int) Option {
	return func(o *Opts) { o.MinInputLength = n }
}

// WithWriteFailurePolicy sets the store write failure policy.
func WithWriteFailurePolicy(p WriteFailurePolicy) Option {
	return func(o *Opts) { o.WritePolicy = p }
}

// WithSessionTTL sets the TTL applied on every session write.
func WithSessionTTL(d time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = d }
}

// WithStoreTimeout bounds each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *Opts) { o.StoreTimeout = d }
}

// WithEngineTimeout bounds each engine call.
func WithEngineTimeout(d time.Duration) Option {
	return func(o *Opts) { o.EngineTimeout = d }
}

// WithCrisisLine overrides the crisis contact text shown in care messages.
func WithCrisisLine(s string) Option {
	return func(o *Opts) { o.CrisisLine = s }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{
		MinInputLength: DefaultMinInputLength,
		WritePolicy:    WriteBestEffort,
		SessionTTL:     DefaultSessionTTL,
		StoreTimeout:   DefaultStoreTimeout,
		EngineTimeout:  DefaultEngineTimeout,
		CrisisLine:     DefaultCrisisLine,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MinInputLength < 1 {
		cfg.MinInputLength = DefaultMinInputLength
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = DefaultEngineTimeout
	}
	if cfg.CrisisLine == "" {
		cfg.CrisisLine = DefaultCrisisLine
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}
