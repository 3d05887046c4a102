package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Config defines operational parameters for the Catalog Store's backing
// SQLite file.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int // single-writer, small-reader-pool: the client is one operator, not a server
}

// DefaultConfig returns the pool sizing appropriate to a single-operator
// desktop client: one writer path (§4.1 "all mutations go through a single
// writer"), plus a handful of concurrent readers for the Block Generator,
// Playout Controller, and diagnostic HTTP server.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// Open initializes a SQLite connection pool with the PRAGMAs the Catalog
// Store requires: WAL mode (so readers never block on the writer),
// busy_timeout (so a reader doesn't fail outright during a commit), and
// foreign_keys (cascading deletes on Rotator/StopSet removal, §3-inv-2).
func Open(dbPath string, cfg Config) (*sql.DB, error) {
	// Construct DSN with mandatory PRAGMAs to ensure they apply to ALL connections in the pool.
	// modernc.org/sqlite supports _pragma in the DSN.
	// Format: file:path?_pragma=foo(bar)&_pragma=baz(qux)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	// Connection Pool Invariants
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	// Connectivity Check
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	return db, nil
}
