// Package store provides storage backends for HealBot.
//
// This file implements an SQLite-backed session store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/HealBot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db        *sql.DB
	now       func() time.Time
	retention time.Duration
}

// Compile-time checks.
var (
	_ Store  = (*SQLiteStore)(nil)
	_ Purger = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, now: cfg.Now, retention: cfg.DedupRetention}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	var data string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version FROM sessions WHERE key = ? AND expires_at > ?`,
		SessionKey(userID), s.now().UnixMilli(),
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}
	sess, err := decodeSession([]byte(data))
	if err != nil {
		slog.Error("SQLiteStore Get decode failed", "error", err, "userID", userID)
		return nil, err
	}
	sess.Version = version
	return sess, nil
}

func (s *SQLiteStore) Set(ctx context.Context, userID string, session *models.Session, ttl time.Duration) error {
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
		`INSERT INTO sessions (key, data, version, expires_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, version = excluded.version,
		 expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		SessionKey(userID), string(data), version, now.Add(effectiveTTL(ttl)).UnixMilli(), now,
	)
	if err != nil {
		slog.Error("SQLiteStore Set failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set session for %s: %w", userID, err)
	}
	session.Version = version
	slog.Debug("SQLiteStore Set succeeded", "userID", userID, "version", version)
	return nil
}

func (s *SQLiteStore) CompareAndSet(ctx context.Context, userID string, session *models.Session, expectedVersion int64, ttl time.Duration) error {
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
		// Insert, or take over a row whose session already expired.
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (key, data, version, expires_at, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET data = excluded.data, version = excluded.version,
			 expires_at = excluded.expires_at, updated_at = excluded.updated_at
			 WHERE sessions.expires_at <= ?`,
			SessionKey(userID), string(data), version, expires, now, nowMilli,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET data = ?, version = ?, expires_at = ?, updated_at = ?
			 WHERE key = ? AND version = ? AND expires_at > ?`,
			string(data), version, expires, now, SessionKey(userID), expectedVersion, nowMilli,
		)
	}
	if err != nil {
		slog.Error("SQLiteStore CompareAndSet failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to write session for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore CompareAndSet conflict", "userID", userID, "expected", expectedVersion)
		return ErrVersionConflict
	}
	session.Version = version
	slog.Debug("SQLiteStore CompareAndSet succeeded", "userID", userID, "version", version)
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, SessionKey(userID)); err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore Delete succeeded", "userID", userID)
	return nil
}

// PurgeExpired removes expired sessions and stale dedup records.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge sessions failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, now.Add(-s.retention).UnixMilli()); err != nil {
		return n, fmt.Errorf("purge dedup failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
