// Package store provides storage backends for HealBot.
//
// This file implements a PostgreSQL-backed session store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/HealBot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db        *sql.DB
	now       func() time.Time
	retention time.Duration
}

// Compile-time checks.
var (
	_ Store  = (*PostgresStore)(nil)
	_ Purger = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, now: cfg.Now, retention: cfg.DedupRetention}, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	var data []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version FROM sessions WHERE key = $1 AND expires_at > $2`,
		SessionKey(userID), s.now().UnixMilli(),
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}
	sess, err := decodeSession(data)
	if err != nil {
		slog.Error("PostgresStore Get decode failed", "error", err, "userID", userID)
		return nil, err
	}
	sess.Version = version
	return sess, nil
}

func (s *PostgresStore) Set(ctx context.Context, userID string, session *models.Session, ttl time.Duration) error {
	if err := validateWrite(userID, session); err != nil {
		return err
	}
	version := session.Version + 1
	data, err := encodeSession(stamped(session, version))
	if err != nil {
		return err
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (key, data, version, expires_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, version = EXCLUDED.version,
		 expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		SessionKey(userID), string(data), version, now.Add(effectiveTTL(ttl)).UnixMilli(), now,
	)
	if err != nil {
		slog.Error("PostgresStore Set failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set session for %s: %w", userID, err)
	}
	session.Version = version
	slog.Debug("PostgresStore Set succeeded", "userID", userID, "version", version)
	return nil
}

func (s *PostgresStore) CompareAndSet(ctx context.Context, userID string, session *models.Session, expectedVersion int64, ttl time.Duration) error {
	if err := validateWrite(userID, session); err != nil {
		return err
	}
	version := expectedVersion + 1
	data, err := encodeSession(stamped(session, version))
	if err != nil {
		return err
	}
	now := s.now()
	nowMilli := now.UnixMilli()
	expires := now.Add(effectiveTTL(ttl)).UnixMilli()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (key, data, version, expires_at, updated_at) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, version = EXCLUDED.version,
			 expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
			 WHERE sessions.expires_at <= $6`,
			SessionKey(userID), string(data), version, expires, now, nowMilli,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET data = $1, version = $2, expires_at = $3, updated_at = $4
			 WHERE key = $5 AND version = $6 AND expires_at > $7`,
			string(data), version, expires, now, SessionKey(userID), expectedVersion, nowMilli,
		)
	}
	if err != nil {
		slog.Error("PostgresStore CompareAndSet failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to write session for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug("PostgresStore CompareAndSet conflict", "userID", userID, "expected", expectedVersion)
		return ErrVersionConflict
	}
	session.Version = version
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = $1`, SessionKey(userID)); err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

// PurgeExpired removes expired sessions and stale dedup records.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge sessions failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < $1`, now.Add(-s.retention).UnixMilli()); err != nil {
		return n, fmt.Errorf("purge dedup failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
