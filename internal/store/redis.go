// Package store provides storage backends for HealBot.
//
// This file implements a Redis-backed session store. Expiry is enforced by
// the server (SET ... EX), so no sweeper is needed.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/HealBot/internal/models"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the redis:// URL given by WithRedisURL.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("redis URL not set")
	}
	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", redisOpts.Addr)
		client.Close()
		return nil, err
	}
	slog.Debug("RedisStore connected", "addr", redisOpts.Addr, "db", redisOpts.DB)
	return &RedisStore{client: client, retention: cfg.DedupRetention}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, retention: DefaultDedupRetention}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	data, err := s.client.Get(ctx, SessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}
	return decodeSession(data)
}

func (s *RedisStore) Set(ctx context.Context, userID string, session *models.Session, ttl time.Duration) error {
	if err := validateWrite(userID, session); err != nil {
		return err
	}
	version := session.Version + 1
	data, err := encodeSession(stamped(session, version))
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, SessionKey(userID), data, effectiveTTL(ttl)).Err(); err != nil {
		slog.Error("RedisStore Set failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to set session for %s: %w", userID, err)
	}
	session.Version = version
	slog.Debug("RedisStore Set succeeded", "userID", userID, "version", version)
	return nil
}

// CompareAndSet uses WATCH/MULTI so a concurrent write to the key aborts the transaction.
func (s *RedisStore) CompareAndSet(ctx context.Context, userID string, session *models.Session, expectedVersion int64, ttl time.Duration) error {
	if err := validateWrite(userID, session); err != nil {
		return err
	}
	key := SessionKey(userID)
	version := expectedVersion + 1
	data, err := encodeSession(stamped(session, version))
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			stored, err := decodeSession(raw)
			switch {
			case err == nil:
				current = stored.Version
			case expectedVersion == 0:
				// a fresh session may replace an undecodable value
				slog.Warn("RedisStore CompareAndSet overwriting corrupt session", "error", err, "userID", userID)
			default:
				return err
			}
		}
		if current != expectedVersion {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, effectiveTTL(ttl))
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) || errors.Is(err, ErrVersionConflict) {
		slog.Debug("RedisStore CompareAndSet conflict", "userID", userID, "expected", expectedVersion)
		return ErrVersionConflict
	}
	if err != nil {
		slog.Error("RedisStore CompareAndSet failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to write session for %s: %w", userID, err)
	}
	session.Version = version
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, SessionKey(userID)).Err(); err != nil {
		slog.Error("RedisStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupKeyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, dedupKeyPrefix+messageID, userID, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string) error {
	err := s.client.SetArgs(ctx, dedupKeyPrefix+messageID, "processed", redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
