package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
)

// VerifyIntegrity checks the Catalog Store's backing file for structural
// corruption, opening it read-only so this can run alongside a live client
// (e.g. from a future support/diagnostic tool) without contending for the
// single writer path. Mode is "quick" (PRAGMA quick_check, cheap enough to
// run on every startup) or "full" (PRAGMA integrity_check, slower and
// reserved for an explicit diagnostic run). Returns nil when healthy, or the
// corruption-describing rows SQLite reports otherwise.
func VerifyIntegrity(path string, mode string) ([]string, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=2000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening catalog store for verification: %w", err)
	}
	defer db.Close()

	pragma := "PRAGMA quick_check;"
	if mode == "full" {
		pragma = "PRAGMA integrity_check;"
	}

	rows, err := db.Query(pragma)
	if err != nil {
		return nil, fmt.Errorf("sqlite: running %s: %w", strings.TrimSuffix(pragma, ";"), err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var res string
		if err := rows.Scan(&res); err != nil {
			return nil, fmt.Errorf("sqlite: scanning integrity result row: %w", err)
		}
		results = append(results, res)
	}

	// The PRAGMA's documented success contract is exactly one row reading
	// "ok"; anything else (including zero rows) is reported as a diagnostic.
	if len(results) == 1 && strings.ToLower(results[0]) == "ok" {
		return nil, nil
	}
	if len(results) == 0 {
		return []string{"sqlite: integrity check returned no rows"}, nil
	}
	return results, nil
}
