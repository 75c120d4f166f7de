package store

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically purges expired sessions from backends whose storage
// does not expire rows on its own.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a Sweeper. A non-positive interval defaults to one minute.
func NewSweeper(p Purger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{purger: p, interval: interval, now: time.Now}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Sweeper.Run: starting", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sweeper.Run: stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one purge pass and returns the number of sessions removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.purger.PurgeExpired(ctx, s.now())
	if err != nil {
		slog.Error("Sweeper.SweepOnce: purge failed", "error", err)
		return n
	}
	if n > 0 {
		slog.Debug("Sweeper.SweepOnce: purged expired sessions", "count", n)
	}
	return n
}
