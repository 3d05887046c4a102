package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// CleanOrphanAudioFiles removes files under mediaDir that no longer
// correspond to any Asset row. Bound to logout rather than sync commit:
// the Playout Controller may still be streaming a file that was just
// dropped from the snapshot, and logout is the point at which the caller
// guarantees playout is Idle (§4.2 "Ordering & atomicity").
func (s *Store) CleanOrphanAudioFiles(ctx context.Context, mediaDir string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT audio_rel_path FROM assets`)
	if err != nil {
		return 0, fmt.Errorf("catalog: list asset paths: %w", err)
	}

	known := make(map[string]struct{})
	for rows.Next() {
		var relPath string
		if err := rows.Scan(&relPath); err != nil {
			rows.Close()
			return 0, fmt.Errorf("catalog: scan asset path: %w", err)
		}
		known[filepath.Clean(relPath)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	removed := 0
	err = filepath.Walk(mediaDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(mediaDir, path)
		if err != nil {
			return nil
		}
		if _, ok := known[filepath.Clean(rel)]; ok {
			return nil
		}

		if err := os.Remove(path); err != nil {
			return fmt.Errorf("catalog: remove orphan %s: %w", path, err)
		}
		removed++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, err
	}

	return removed, nil
}
