package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueLogEntry persists entry to the unshipped queue. Re-enqueueing the
// same UUID is a no-op (ON CONFLICT DO NOTHING), matching §3-inv-6 — UUIDs
// are never reused and the server dedupes on them, so the client's own
// queue must stay idempotent too.
func (s *Store) EnqueueLogEntry(ctx context.Context, entry LogEntry) error {
	var durationMS sql.NullInt64
	if entry.Duration != nil {
		durationMS = sql.NullInt64{Int64: entry.Duration.Milliseconds(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_entries (uuid, created, user_id, action, duration_ms, description, shipped)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(uuid) DO NOTHING`,
		entry.UUID.String(), entry.Created.UnixMilli(), entry.UserID, int(entry.Action), durationMS, entry.Description)
	if err != nil {
		return fmt.Errorf("catalog: enqueue log entry: %w", err)
	}
	return nil
}

// UnshippedLogEntries returns up to limit entries not yet marked shipped, in
// creation order — the batch the Log Shipper will attempt to POST next.
func (s *Store) UnshippedLogEntries(ctx context.Context, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, created, user_id, action, duration_ms, description
		FROM log_entries WHERE shipped = 0 ORDER BY created LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: unshipped log entries: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			id         string
			createdMS  int64
			durationMS sql.NullInt64
			entry      LogEntry
		)
		if err := rows.Scan(&id, &createdMS, &entry.UserID, &entry.Action, &durationMS, &entry.Description); err != nil {
			return nil, fmt.Errorf("catalog: scan log entry: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("catalog: parse log entry uuid %q: %w", id, err)
		}
		entry.UUID = parsed
		entry.Created = time.UnixMilli(createdMS)
		if durationMS.Valid {
			d := time.Duration(durationMS.Int64) * time.Millisecond
			entry.Duration = &d
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkShipped flags the given UUIDs as shipped after a successful POST to
// /log. The server is idempotent on UUID, so calling this twice for the
// same id is harmless (§3-inv-6).
func (s *Store) MarkShipped(ctx context.Context, ids []uuid.UUID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.Exec(`UPDATE log_entries SET shipped = 1 WHERE uuid = ?`, id.String()); err != nil {
				return fmt.Errorf("catalog: mark shipped %s: %w", id, err)
			}
		}
		return nil
	})
}

// PruneShippedOlderThan deletes shipped log entries created more than age
// ago, matching §3's "retained locally as shipped (may be pruned after N
// days)" lifecycle note.
func (s *Store) PruneShippedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM log_entries WHERE shipped = 1 AND created < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("catalog: prune shipped log entries: %w", err)
	}
	return res.RowsAffected()
}
