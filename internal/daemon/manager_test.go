package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestAppContext(t *testing.T) *AppContext {
	t.Helper()
	app, err := NewAppContext(Paths{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestManager_StartShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestAppContext(t)
	mgr := NewManager(app, Config{
		SyncInterval: time.Hour,
		ShipInterval: time.Hour,
	})

	require.NoError(t, mgr.Start(context.Background()))
	require.NoError(t, mgr.Shutdown(context.Background()))
}

func TestManager_StartTwiceFails(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestAppContext(t)
	mgr := NewManager(app, Config{SyncInterval: time.Hour, ShipInterval: time.Hour})

	require.NoError(t, mgr.Start(context.Background()))
	defer func() { _ = mgr.Shutdown(context.Background()) }()

	assert.ErrorIs(t, mgr.Start(context.Background()), ErrAlreadyStarted)
}

func TestManager_ShutdownWithoutStartFails(t *testing.T) {
	app := newTestAppContext(t)
	mgr := NewManager(app, Config{})

	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_ShutdownHooksRunLIFO(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestAppContext(t)
	mgr := NewManager(app, Config{SyncInterval: time.Hour, ShipInterval: time.Hour})

	var order []string
	mgr.RegisterShutdownHook("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	mgr.RegisterShutdownHook("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, mgr.Start(context.Background()))
	require.NoError(t, mgr.Shutdown(context.Background()))

	assert.Equal(t, []string{"second", "first"}, order)
}

func TestManager_ShutdownAggregatesHookErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestAppContext(t)
	mgr := NewManager(app, Config{SyncInterval: time.Hour, ShipInterval: time.Hour})

	boom := assert.AnError
	mgr.RegisterShutdownHook("broken", func(ctx context.Context) error { return boom })

	require.NoError(t, mgr.Start(context.Background()))
	assert.Error(t, mgr.Shutdown(context.Background()))
}

func TestManager_TriggerSyncCoalesces(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestAppContext(t)
	mgr := NewManager(app, Config{SyncInterval: time.Hour, ShipInterval: time.Hour})

	require.NoError(t, mgr.Start(context.Background()))
	defer func() { _ = mgr.Shutdown(context.Background()) }()

	// Logged-out (no token), so the sync worker's runOnce is a no-op; this
	// only exercises that repeated triggers don't block or panic.
	mgr.TriggerSync()
	mgr.TriggerSync()
	mgr.TriggerSync()
}

func TestManager_DiagnosticServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	app := newTestAppContext(t)
	mgr := NewManager(app, Config{
		SyncInterval:   time.Hour,
		ShipInterval:   time.Hour,
		DiagnosticAddr: "127.0.0.1:0",
	})

	require.NoError(t, mgr.Start(context.Background()))
	require.NoError(t, mgr.Shutdown(context.Background()))
}

func TestPaths(t *testing.T) {
	p := Paths{DataDir: "/tmp/tomato"}
	assert.Equal(t, filepath.Join("/tmp/tomato", "db.sqlite3"), p.DBPath())
	assert.Equal(t, filepath.Join("/tmp/tomato", "media", "assets"), p.MediaDir())
	assert.Equal(t, filepath.Join("/tmp/tomato", "config.json"), p.LocalConfigPath())
	assert.Equal(t, filepath.Join("/tmp/tomato", "tomato.run"), p.LockPath())
}
