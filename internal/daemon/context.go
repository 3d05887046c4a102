// Package daemon wires the leaf components (Catalog Store, Sync Engine,
// Log Shipper, Auth) into one running process: a
// single AppContext built once by the top-level executor (§9 "Global
// mutable singletons -> passed context"), plus a Manager that starts the
// dedicated background workers §5 requires (sync worker, log shipper
// worker, diagnostic HTTP server) and tears them down in LIFO order.
//
// Grounded on internal/daemon/manager.go's mutex-guarded started flag and
// namedHook slice; the server list there (API/metrics/proxy) is replaced
// by this domain's worker set.
package daemon

import (
	"fmt"
	"path/filepath"

	"github.com/dtcooper/tomato/internal/apiclient"
	"github.com/dtcooper/tomato/internal/auth"
	"github.com/dtcooper/tomato/internal/catalog"
	"github.com/dtcooper/tomato/internal/localconfig"
	"github.com/dtcooper/tomato/internal/logshipper"
	"github.com/dtcooper/tomato/internal/metrics"
	"github.com/dtcooper/tomato/internal/sync"
)

// Paths collects the per-user directory layout described in §6.
type Paths struct {
	DataDir string // root user-data directory
}

// DBPath is the Catalog Store's SQLite file (db.<ext> in §6).
func (p Paths) DBPath() string { return filepath.Join(p.DataDir, "db.sqlite3") }

// MediaDir is where downloaded audio blobs live (media/assets in §6).
func (p Paths) MediaDir() string { return filepath.Join(p.DataDir, "media", "assets") }

// LocalConfigPath is config.json's location (§6).
func (p Paths) LocalConfigPath() string { return filepath.Join(p.DataDir, "config.json") }

// LockPath is the single-instance lockfile (tomato.run, §6).
func (p Paths) LockPath() string { return filepath.Join(p.DataDir, "tomato.run") }

// AppContext owns every long-lived component, built once at process start
// and handed to whichever code needs it (cmd/tomato, the Manager, tests
// that want a full wiring under a temporary data directory).
type AppContext struct {
	Paths       Paths
	Catalog     *catalog.Store
	LocalConfig *localconfig.Store
	Auth        *auth.Auth
	Sync        *sync.Engine
	Shipper     *logshipper.Shipper
}

// NewAppContext opens the Catalog Store and local config at paths.DataDir
// and wires the Sync Engine and Log Shipper against them. The Playout
// Controller is intentionally not built here: it needs an AudioSink, an
// external collaborator this module only specifies the interface for
// (§4.4), so callers construct it themselves once they have one.
func NewAppContext(paths Paths) (*AppContext, error) {
	store, err := catalog.Open(paths.DBPath())
	if err != nil {
		return nil, fmt.Errorf("daemon: open catalog: %w", err)
	}

	cfg, err := localconfig.Open(paths.LocalConfigPath())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("daemon: open local config: %w", err)
	}

	a := auth.New(cfg)

	syncEngine := sync.New(sync.Deps{
		Client:   a.Client(),
		Download: apiclient.Download,
		Store:    store,
		MediaDir: paths.MediaDir(),
		Metrics:  metrics.Sync{},
	})

	shipper := logshipper.New(logshipper.Deps{
		Client: a.Client(),
		Store:  store,
	})

	return &AppContext{
		Paths:       paths,
		Catalog:     store,
		LocalConfig: cfg,
		Auth:        a,
		Sync:        syncEngine,
		Shipper:     shipper,
	}, nil
}

// Close releases the Catalog Store's connection pool.
func (c *AppContext) Close() error {
	return c.Catalog.Close()
}
