// Package localconfig persists the client's UI-side settings (config.json):
// window geometry, debug flag, protocol/hostname, the signed auth token, and
// the last successful sync instant. It is distinct from the Catalog Store's
// server-authoritative Config, which lives in internal/catalog.
package localconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xlog "github.com/dtcooper/tomato/internal/log"
)

// Data is the on-disk shape of config.json.
type Data struct {
	Protocol     string    `json:"protocol"`
	Hostname     string    `json:"hostname"`
	AuthToken    string    `json:"auth_token,omitempty"`
	Debug        bool      `json:"debug"`
	LastSync     time.Time `json:"last_sync,omitempty"`
	WindowWidth  int       `json:"window_width,omitempty"`
	WindowHeight int       `json:"window_height,omitempty"`
}

// Store holds the current Data behind an atomic pointer so readers never
// race with an Update in progress; the file itself is the durable copy.
type Store struct {
	path     string
	snapshot atomic.Pointer[Data]
}

// Open loads config.json at path, or starts from zero-value Data if it does
// not yet exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.snapshot.Store(&Data{})
			return s, nil
		}
		return nil, fmt.Errorf("localconfig: read %s: %w", path, err)
	}

	var d Data
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("localconfig: parse %s: %w", path, err)
	}
	s.snapshot.Store(&d)
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Data {
	return *s.snapshot.Load()
}

// Path returns the config.json location Store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads config.json from disk and swaps the in-memory snapshot,
// discarding any unsaved in-memory state. Used by Watch to pick up edits
// made by something other than this process (§9 "global singletons ->
// passed context" still allows one external hand editing the file between
// runs; Watch exists so a long-running process notices without a restart).
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("localconfig: reload %s: %w", s.path, err)
	}

	var d Data
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("localconfig: parse %s: %w", s.path, err)
	}
	s.snapshot.Store(&d)
	return nil
}

// Watch starts an fsnotify watcher on config.json's directory and reloads
// on Write/Create/Rename events, debounced so rapid successive writes
// (e.g. an editor's atomic-replace-via-rename) collapse into one reload.
// Grounded on internal/config/reload.go's ConfigHolder.StartWatcher/
// watchLoop: watch the directory rather than the file (so a rename-based
// atomic replace is still seen), filter events to the basename, debounce
// with time.AfterFunc. Returns once the watcher goroutine is running;
// callers stop it by cancelling ctx.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("localconfig: create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("localconfig: create dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("localconfig: watch dir: %w", err)
	}

	logger := xlog.WithComponent("localconfig")
	go s.watchLoop(ctx, watcher, base, logger)
	return nil
}

const watchDebounce = 250 * time.Millisecond

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, base string, logger zerolog.Logger) {
	defer func() { _ = watcher.Close() }()

	var debounce *time.Timer
	reload := func() {
		if err := s.Reload(); err != nil {
			logger.Error().Err(err).Str("event", "localconfig.reload_failed").Msg("failed to reload config.json")
		} else {
			logger.Debug().Str("event", "localconfig.reloaded").Msg("reloaded config.json from disk")
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Str("event", "localconfig.watch_error").Msg("config watcher error")
		}
	}
}

// Update applies mutate to a copy of the current settings and durably
// persists the result via a temp-file-plus-fsync-plus-rename, so a crash
// mid-write never leaves config.json truncated or corrupt.
func (s *Store) Update(mutate func(*Data)) error {
	current := s.Get()
	mutate(&current)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("localconfig: create dir: %w", err)
	}

	encoded, err := json.MarshalIndent(&current, "", "  ")
	if err != nil {
		return fmt.Errorf("localconfig: encode: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("localconfig: create pending file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(encoded); err != nil {
		return fmt.Errorf("localconfig: write: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("localconfig: atomic replace: %w", err)
	}

	s.snapshot.Store(&current)
	return nil
}
