package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dtcooper/tomato/internal/persistence/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rotators (
	id    INTEGER PRIMARY KEY,
	name  TEXT NOT NULL,
	color TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stopsets (
	id      INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	begin   INTEGER,
	end     INTEGER,
	weight  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS stopset_rotators (
	id         INTEGER PRIMARY KEY,
	stopset_id INTEGER NOT NULL REFERENCES stopsets(id) ON DELETE CASCADE,
	rotator_id INTEGER NOT NULL REFERENCES rotators(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stopset_rotators_stopset ON stopset_rotators(stopset_id, position);

CREATE TABLE IF NOT EXISTS assets (
	id             INTEGER PRIMARY KEY,
	name           TEXT NOT NULL,
	duration_ms    INTEGER NOT NULL,
	audio_rel_path TEXT NOT NULL,
	audio_size     INTEGER NOT NULL,
	enabled        INTEGER NOT NULL,
	begin          INTEGER,
	end            INTEGER,
	weight         REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS asset_rotators (
	asset_id   INTEGER NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
	rotator_id INTEGER NOT NULL REFERENCES rotators(id) ON DELETE CASCADE,
	PRIMARY KEY (asset_id, rotator_id)
);
CREATE INDEX IF NOT EXISTS idx_asset_rotators_rotator ON asset_rotators(rotator_id);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS log_entries (
	uuid        TEXT PRIMARY KEY,
	created     INTEGER NOT NULL,
	user_id     INTEGER NOT NULL,
	action      INTEGER NOT NULL,
	duration_ms INTEGER,
	description TEXT NOT NULL,
	shipped     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_log_entries_unshipped ON log_entries(shipped) WHERE shipped = 0;
`

// Store is the Catalog Store: the single-writer, multi-reader SQLite
// database backing Assets, Rotators, StopSets, RotatorSlots, Config, and the
// Log Shipper's outgoing queue.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the catalog database at path and applies
// the schema. Grounded on internal/persistence/sqlite.Open's WAL + busy
// timeout + foreign_keys PRAGMAs, reused verbatim since SQLite connection
// hygiene is domain-agnostic.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// VerifyIntegrity runs SQLite's quick_check against the store's backing
// file. Reused near-verbatim from internal/persistence/sqlite.VerifyIntegrity
// since corruption detection is domain-agnostic.
func (s *Store) VerifyIntegrity(path string) ([]string, error) {
	return sqlite.VerifyIntegrity(path, "quick")
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. The multi-statement mutations (UpsertSnapshot,
// MarkShipped) go through this, so a crash mid-apply leaves the prior
// snapshot intact; single-statement writes such as EnqueueLogEntry and
// PruneShippedOlderThan run directly against the pool.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	return nil
}
