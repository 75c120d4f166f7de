package store

import (
	"fmt"
	"strings"
	"time"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN            string           // connection string or file path
	DedupRetention time.Duration    // how long inbound message ids are kept
	Now            func() time.Time // clock used for expiry bookkeeping
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets the redis:// URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// WithDedupRetention sets how long inbound message ids are remembered.
func WithDedupRetention(d time.Duration) Option {
	return func(o *Opts) { o.DedupRetention = d }
}

// WithClock overrides the clock used for expiry. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{
		DedupRetention: DefaultDedupRetention,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DedupRetention <= 0 {
		cfg.DedupRetention = DefaultDedupRetention
	}
	return cfg
}

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
	DSNTypeRedis    = "redis"
	DSNTypeMemory   = "memory"
)

// DetectDSNType classifies a connection string by its scheme or shape.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(strings.ToLower(dsn))
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(d, "host=") && strings.Contains(d, "dbname="):
		return DSNTypePostgres
	case strings.HasPrefix(d, "redis://"), strings.HasPrefix(d, "rediss://"):
		return DSNTypeRedis
	case d == "memory", d == "mem://":
		return DSNTypeMemory
	default:
		return DSNTypeSQLite
	}
}

// Open builds the backend selected by the DSN.
func Open(dsn string, opts ...Option) (Store, error) {
	all := append([]Option{func(o *Opts) { o.DSN = dsn }}, opts...)
	switch DetectDSNType(dsn) {
	case DSNTypePostgres:
		return NewPostgresStore(all...)
	case DSNTypeRedis:
		return NewRedisStore(all...)
	case DSNTypeMemory:
		return NewInMemoryStore(all...), nil
	case DSNTypeSQLite:
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("database DSN not set")
		}
		return NewSQLiteStore(all...)
	}
	return nil, fmt.Errorf("unsupported DSN %q", dsn)
}
