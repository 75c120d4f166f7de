package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// dedupStatements are the inbound_dedup queries for one SQL dialect.
type dedupStatements struct {
	seen      string
	record    string
	processed string
}

var (
	sqliteDedup = dedupStatements{
		seen:      `SELECT 1 FROM inbound_dedup WHERE message_id = ?`,
		record:    `INSERT OR IGNORE INTO inbound_dedup (message_id, participant_id, received_at) VALUES (?, ?, ?)`,
		processed: `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
	}
	postgresDedup = dedupStatements{
		seen:      `SELECT 1 FROM inbound_dedup WHERE message_id = $1`,
		record:    `INSERT INTO inbound_dedup (message_id, participant_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		processed: `UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
	}
)

// sqlDedup implements DedupRepo over an inbound_dedup table.
type sqlDedup struct {
	db    *sql.DB
	now   func() int64
	stmts dedupStatements
	name  string
}

func (d sqlDedup) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, d.stmts.seen, messageID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%s dedup lookup for %s: %w", d.name, messageID, err)
	}
	return true, nil
}

// RecordInbound relies on the primary key, so two gateways racing on one
// redelivered id see exactly one true.
func (d sqlDedup) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := d.db.ExecContext(ctx, d.stmts.record, messageID, userID, d.now())
	if err != nil {
		return false, fmt.Errorf("%s dedup record for %s: %w", d.name, messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s dedup record for %s: %w", d.name, messageID, err)
	}
	if n == 0 {
		slog.Debug(d.name+" dedup hit", "messageID", messageID, "userID", userID)
	}
	return n > 0, nil
}

func (d sqlDedup) MarkProcessed(ctx context.Context, messageID string) error {
	if _, err := d.db.ExecContext(ctx, d.stmts.processed, d.now(), messageID); err != nil {
		return fmt.Errorf("%s dedup mark processed for %s: %w", d.name, messageID, err)
	}
	return nil
}

func (s *SQLiteStore) dedup() sqlDedup {
	return sqlDedup{db: s.db, now: func() int64 { return s.now().UnixMilli() }, stmts: sqliteDedup, name: "SQLiteStore"}
}

func (s *PostgresStore) dedup() sqlDedup {
	return sqlDedup{db: s.db, now: func() int64 { return s.now().UnixMilli() }, stmts: postgresDedup, name: "PostgresStore"}
}

func (s *SQLiteStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	return s.dedup().IsDuplicate(ctx, messageID)
}

func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	return s.dedup().RecordInbound(ctx, messageID, userID)
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	return s.dedup().MarkProcessed(ctx, messageID)
}

func (s *PostgresStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	return s.dedup().IsDuplicate(ctx, messageID)
}

func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	return s.dedup().RecordInbound(ctx, messageID, userID)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	return s.dedup().MarkProcessed(ctx, messageID)
}
