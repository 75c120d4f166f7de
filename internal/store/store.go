// Package store provides session storage backends for HealBot.
//
// Every backend keeps one JSON-encoded session per user under the key
// "user:<userID>" with a hard TTL refreshed on each write, and guards
// concurrent writers with a version stamp.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/HealBot/internal/models"
)

// SessionKeyPrefix namespaces session keys.
const SessionKeyPrefix = "user:"

// DefaultSessionTTL is the hard expiry applied to every session write.
const DefaultSessionTTL = 3600 * time.Second

// DefaultDedupRetention bounds how long inbound message ids are remembered.
const DefaultDedupRetention = 24 * time.Hour

var (
	// ErrVersionConflict is returned by CompareAndSet when the stored version
	// differs from the expected one.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrNilSession is returned when a nil session is written.
	ErrNilSession = errors.New("session cannot be nil")
	// ErrEmptyUserID is returned for operations on an empty user id.
	ErrEmptyUserID = errors.New("user id cannot be empty")
	// ErrCorruptSession is returned when a stored session cannot be decoded.
	ErrCorruptSession = errors.New("stored session is corrupt")
)

// SessionStore persists one practice session per user with expiry.
type SessionStore interface {
	// Get returns the live session for a user, or nil when absent or expired.
	Get(ctx context.Context, userID string) (*models.Session, error)
	// Set writes the session unconditionally and refreshes its TTL.
	// On success session.Version holds the stored version.
	Set(ctx context.Context, userID string, session *models.Session, ttl time.Duration) error
	// CompareAndSet writes the session only if the stored version equals
	// expectedVersion. An expectedVersion of 0 means no live session may exist.
	CompareAndSet(ctx context.Context, userID string, session *models.Session, expectedVersion int64, ttl time.Duration) error
	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, userID string) error
	Close() error
}

// Store is the full persistence surface used by the bot.
type Store interface {
	SessionStore
	DedupRepo
	Ping(ctx context.Context) error
}

// Purger is implemented by backends that need explicit removal of expired rows.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionKey returns the namespaced storage key for a user.
func SessionKey(userID string) string {
	return SessionKeyPrefix + userID
}

func validateWrite(userID string, session *models.Session) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if session == nil {
		return ErrNilSession
	}
	return nil
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultSessionTTL
	}
	return ttl
}
