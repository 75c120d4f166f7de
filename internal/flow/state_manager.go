package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/HealBot/internal/models"
	"github.com/BTreeMap/HealBot/internal/store"
)

// SessionManager wraps a SessionStore with per-user locking, store
// deadlines and version-checked writes.
type SessionManager struct {
	store   store.SessionStore
	locks   *KeyedLocker
	ttl     time.Duration
	timeout time.Duration
}

// NewSessionManager creates a SessionManager backed by st.
func NewSessionManager(st store.SessionStore, ttl, timeout time.Duration) *SessionManager {
	slog.Debug("Creating SessionManager", "ttl", ttl, "timeout", timeout)
	return &SessionManager{store: st, locks: NewKeyedLocker(), ttl: ttl, timeout: timeout}
}

// Lock serializes events for one user inside this process.
func (sm *SessionManager) Lock(ctx context.Context, userID string) (func(), error) {
	return sm.locks.Lock(ctx, userID)
}

// Load returns the user's live session. An undecodable record is reported
// as store.ErrCorruptSession; any other read failure is logged and reported
// as no session.
func (sm *SessionManager) Load(ctx context.Context, userID string) (*models.Session, error) {
	sess, err := sm.Peek(ctx, userID)
	if errors.Is(err, store.ErrCorruptSession) {
		return nil, err
	}
	if err != nil {
		slog.Error("SessionManager Load failed, treating as idle", "error", err, "userID", userID)
		return nil, nil
	}
	return sess, nil
}

// Peek returns the user's live session or the store error.
func (sm *SessionManager) Peek(ctx context.Context, userID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()
	sess, err := sm.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// Save writes sess only if the stored version still equals expectedVersion,
// refreshing the TTL. On success sess.Version is the new version.
func (sm *SessionManager) Save(ctx context.Context, sess *models.Session, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()
	if err := sm.store.CompareAndSet(ctx, sess.UserID, sess, expectedVersion, sm.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	slog.Debug("SessionManager Save succeeded", "userID", sess.UserID, "state", sess.State(), "version", sess.Version)
	return nil
}

// Delete destroys the user's session. Deleting an absent session is not an error.
func (sm *SessionManager) Delete(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()
	if err := sm.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
