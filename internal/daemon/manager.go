package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xlog "github.com/dtcooper/tomato/internal/log"
	"github.com/dtcooper/tomato/internal/localconfig"
	"github.com/dtcooper/tomato/internal/logshipper"
	"github.com/dtcooper/tomato/internal/metrics"
	"github.com/dtcooper/tomato/internal/telemetry"
)

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order (LIFO), mirroring the teacher's
// internal/daemon/manager.go.
type ShutdownHook func(ctx context.Context) error

// ErrManagerNotStarted is returned by Shutdown if Start was never called.
var ErrManagerNotStarted = errors.New("daemon: manager not started")

// ErrAlreadyStarted is returned by Start if it is called twice.
var ErrAlreadyStarted = errors.New("daemon: manager already started")

// Config tunes the Manager's background worker cadence.
type Config struct {
	SyncInterval     time.Duration // 0 = DefaultSyncInterval
	ShipInterval     time.Duration // 0 = DefaultShipInterval
	DiagnosticAddr   string        // "" disables the diagnostic HTTP server
	WatchLocalConfig bool
}

// DefaultSyncInterval is how often the sync worker runs unprompted,
// independent of any manual "sync now" trigger.
const DefaultSyncInterval = 15 * time.Minute

// DefaultShipInterval is how often the log shipper worker drains the
// unshipped queue.
const DefaultShipInterval = 30 * time.Second

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager runs the dedicated background workers §5 requires (sync worker,
// log shipper worker) plus the diagnostic HTTP server, and tears them down
// in LIFO order on Shutdown. It does not own the Playout Controller: that
// lives on the UI/event thread per §5, driven by operator actions rather
// than a ticker.
type Manager struct {
	app *AppContext
	cfg Config

	mu            sync.Mutex
	started       bool
	shutdownHooks []namedHook

	diagServer *http.Server
	syncNow    chan struct{}
	wg         sync.WaitGroup
	cancelBg   context.CancelFunc
}

// NewManager returns a Manager over app, defaulting zero Config fields.
func NewManager(app *AppContext, cfg Config) *Manager {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.ShipInterval <= 0 {
		cfg.ShipInterval = DefaultShipInterval
	}
	return &Manager{
		app:     app,
		cfg:     cfg,
		syncNow: make(chan struct{}, 1),
	}
}

// TriggerSync requests an out-of-cycle sync pass (the DJ UI's "sync now"
// button). Non-blocking: a request made while one is already pending is
// coalesced into it; a request made while a pass is running queues exactly
// one more pass (§5 "at most one Sync may run at a time").
func (m *Manager) TriggerSync() {
	select {
	case m.syncNow <- struct{}{}:
	default:
	}
}

// RegisterShutdownHook registers a cleanup function to run, in reverse
// registration order, during Shutdown.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
}

// Start launches the sync worker, log shipper worker, optional local-config
// watcher, and optional diagnostic HTTP server, then returns immediately:
// it does not block, unlike the teacher's Start (this process's main loop
// is the interactive playout REPL, not an HTTP accept loop).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	logger := xlog.WithComponent("daemon")

	bgCtx, cancel := context.WithCancel(ctx)
	m.cancelBg = cancel

	m.wg.Add(2)
	go m.runSyncWorker(bgCtx, logger)
	go m.runShipperWorker(bgCtx, logger)

	if m.cfg.WatchLocalConfig {
		if err := m.app.LocalConfig.Watch(bgCtx); err != nil {
			logger.Error().Err(err).Str("event", "daemon.config_watch_failed").Msg("failed to watch config.json")
		}
	}

	if m.cfg.DiagnosticAddr != "" {
		m.diagServer = &http.Server{
			Addr:              m.cfg.DiagnosticAddr,
			Handler:           newDiagnosticRouter(m.status),
			ReadHeaderTimeout: 3 * time.Second,
		}
		go func() {
			logger.Info().Str("event", "daemon.diagnostic_listen").Str("addr", m.cfg.DiagnosticAddr).Msg("diagnostic server listening")
			if err := m.diagServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("event", "daemon.diagnostic_failed").Msg("diagnostic server failed")
			}
		}()
	}

	return nil
}

func (m *Manager) status() healthStatus {
	status := m.app.Auth.CheckAuthorization(context.Background())
	data := m.app.LocalConfig.Get()
	return healthStatus{
		LoggedIn:     status.LoggedIn,
		Connected:    status.Connected,
		LastSync:     data.LastSync,
		ShipperPaced: m.app.Shipper.Paused(),
	}
}

// runSyncWorker runs one sync pass on each tick of cfg.SyncInterval or
// whenever TriggerSync fires, serialized by construction (one goroutine,
// one loop) so the §5 "at most one Sync may run at a time" invariant holds
// without an extra mutex.
func (m *Manager) runSyncWorker(ctx context.Context, logger zerolog.Logger) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SyncInterval)
	defer ticker.Stop()

	tracer := telemetry.Tracer("tomato.daemon")

	runOnce := func() {
		token := m.app.Auth.Token()
		if token == "" {
			return
		}

		spanCtx, span := tracer.Start(ctx, "sync.run", trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()

		result, err := m.app.Sync.Run(spanCtx, token, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sync pass failed")
			logger.Error().Err(err).Str("event", "daemon.sync_failed").Msg("sync pass failed")
			return
		}
		span.SetAttributes(telemetry.SyncAttributes("commit", result.AssetsTotal)...)
		if err := m.app.LocalConfig.Update(func(d *localconfig.Data) {
			d.LastSync = time.Now()
		}); err != nil {
			logger.Error().Err(err).Str("event", "daemon.sync_lastsync_persist_failed").Msg("failed to persist last_sync")
		}
		logger.Info().Str("event", "daemon.sync_complete").Int("assets_downloaded", result.AssetsDownloaded).Msg("sync pass complete")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		case <-m.syncNow:
			runOnce()
		}
	}
}

// queueDepthSampleLimit bounds the probe read used only to size the
// tomato_logshipper_queue_depth gauge, not to ship anything.
const queueDepthSampleLimit = 10000

// runShipperWorker drains the Catalog Store's unshipped LogEntry queue on
// every tick of cfg.ShipInterval.
func (m *Manager) runShipperWorker(ctx context.Context, logger zerolog.Logger) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ShipInterval)
	defer ticker.Stop()

	tracer := telemetry.Tracer("tomato.daemon")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := m.app.Catalog.UnshippedLogEntries(ctx, queueDepthSampleLimit)
			if err == nil {
				metrics.SetShipperQueueDepth(len(pending))
			}

			token := m.app.Auth.Token()
			if token == "" {
				continue
			}

			spanCtx, span := tracer.Start(ctx, "shipper.ship_pending", trace.WithSpanKind(trace.SpanKindInternal))
			span.SetAttributes(attribute.Int(telemetry.ShipperBatchSizeKey, len(pending)))

			n, err := m.app.Shipper.ShipPending(spanCtx, token)
			if err != nil {
				outcome := "retry"
				if errors.Is(err, logshipper.ErrPaused) {
					outcome = "access_denied"
				}
				span.RecordError(err)
				span.SetStatus(codes.Error, "log shipper pass did not fully drain")
				span.End()
				metrics.RecordShipperBatch(outcome)
				logger.Debug().Err(err).Str("event", "daemon.ship_incomplete").Msg("log shipper pass did not fully drain")
				continue
			}
			span.End()
			if n > 0 {
				metrics.RecordShipperBatch("shipped")
				logger.Info().Str("event", "daemon.ship_complete").Int("shipped", n).Msg("shipped log entries")
			}
		}
	}
}

// Shutdown stops the background workers and diagnostic server, then runs
// registered shutdown hooks in LIFO order, matching the teacher's
// manager.Shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrManagerNotStarted
	}

	logger := xlog.WithComponent("daemon")

	if m.cancelBg != nil {
		m.cancelBg()
	}
	m.wg.Wait()

	var errs []error
	if m.diagServer != nil {
		if err := m.diagServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("diagnostic server shutdown: %w", err))
		}
	}

	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		hook := m.shutdownHooks[i]
		if err := hook.hook(ctx); err != nil {
			logger.Error().Err(err).Str("hook", hook.name).Str("event", "daemon.hook_failed").Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		}
	}

	m.started = false
	if len(errs) > 0 {
		return fmt.Errorf("daemon: shutdown errors: %v", errs)
	}
	return nil
}
