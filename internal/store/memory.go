package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/HealBot/internal/models"
)

type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// InMemoryStore keeps sessions in process memory. Sessions are stored
// serialized so readers never share state with writers.
type InMemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]memoryEntry
	dedup     map[string]DedupRecord
	now       func() time.Time
	retention time.Duration
}

// Compile-time checks.
var (
	_ Store  = (*InMemoryStore)(nil)
	_ Purger = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	return &InMemoryStore{
		sessions:  make(map[string]memoryEntry),
		dedup:     make(map[string]DedupRecord),
		now:       cfg.Now,
		retention: cfg.DedupRetention,
	}
}

func (s *InMemoryStore) liveEntry(key string) (memoryEntry, bool) {
	e, ok := s.sessions[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *InMemoryStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	e, ok := s.liveEntry(SessionKey(userID))
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	sess, err := decodeSession(e.data)
	if err != nil {
		return nil, err
	}
	sess.Version = e.version
	return sess, nil
}

func (s *InMemoryStore) Set(ctx context.Context, userID string, session *models.Session, ttl time.Duration) error {
	if err := validateWrite(userID, session); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(userID, session, session.Version+1, ttl)
}

func (s *InMemoryStore) CompareAndSet(ctx context.Context, userID string, session *models.Session, expectedVersion int64, ttl time.Duration) error {
	if err := validateWrite(userID, session); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if e, ok := s.liveEntry(SessionKey(userID)); ok {
		current = e.version
	}
	if current != expectedVersion {
		slog.Debug("InMemoryStore CompareAndSet conflict", "userID", userID, "expected", expectedVersion, "current", current)
		return ErrVersionConflict
	}
	return s.put(userID, session, expectedVersion+1, ttl)
}

// put must be called with s.mu held.
func (s *InMemoryStore) put(userID string, session *models.Session, version int64, ttl time.Duration) error {
	data, err := encodeSession(stamped(session, version))
	if err != nil {
		return err
	}
	s.sessions[SessionKey(userID)] = memoryEntry{
		data:      data,
		version:   version,
		expiresAt: s.now().Add(effectiveTTL(ttl)),
	}
	session.Version = version
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.sessions, SessionKey(userID))
	s.mu.Unlock()
	return nil
}

// PurgeExpired drops expired sessions and dedup records older than the retention window.
func (s *InMemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			delete(s.sessions, k)
			n++
		}
	}
	cutoff := now.Add(-s.retention)
	for id, d := range s.dedup {
		if d.ReceivedAt.Before(cutoff) {
			delete(s.dedup, id)
		}
	}
	return n, nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: s.now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := s.now()
	d.ProcessedAt = &now
	s.dedup[messageID] = d
	return nil
}
