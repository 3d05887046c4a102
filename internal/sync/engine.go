// Package sync implements the Sync Engine (§4.2): bring the local Catalog
// Store, local audio files, and local Config into agreement with the
// server, reporting 0-100 progress as it goes.
//
// Grounded on internal/jobs/refresh.go's Deps-injection shape (Logger,
// Client, Store/FileWriter, Clock all passed in rather than reached for as
// globals) and on client/tomato/api.py's ModelsApi.sync being a single
// unauthenticated-shape GET with no paging (§4.2 protocol, step 1).
package sync

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/dtcooper/tomato/internal/apiclient"
	"github.com/dtcooper/tomato/internal/apierr"
	"github.com/dtcooper/tomato/internal/catalog"
	xlog "github.com/dtcooper/tomato/internal/log"
)

// Requester is the subset of *apiclient.Client the engine needs, so tests
// can substitute a fake transport without spinning up httptest.
type Requester interface {
	Do(ctx context.Context, method, endpoint, token string, form url.Values, jsonBody any) apiclient.Result
}

// Downloader streams an asset's bytes from an absolute URL. The production
// value is apiclient.Download; tests substitute an in-memory stub.
type Downloader func(ctx context.Context, absoluteURL, token string) (io.ReadCloser, int64, *apierr.Error)

// Store is the subset of *catalog.Store the engine writes to.
type Store interface {
	UpsertSnapshot(ctx context.Context, snap catalog.Snapshot) error
}

// Metrics is the subset of recorded sync observations; see internal/metrics
// for the concrete Prometheus-backed implementation.
type Metrics interface {
	ObserveSyncDuration(d time.Duration, ok bool)
	ObserveAssetsDownloaded(n int)
}

// Deps holds everything the engine needs, injected rather than reached for
// globally (mirrors internal/jobs.Deps).
type Deps struct {
	Client                    Requester
	Download                  Downloader
	Store                     Store
	MediaDir                  string // local root assets are downloaded under
	Metrics                   Metrics
	Clock                     func() time.Time
	Parallelism               int // concurrent asset downloads; 0 = DefaultParallelism
	BandwidthLimitBytesPerSec int // 0 = DefaultBandwidthLimitBytesPerSec
}

// DefaultParallelism bounds concurrent asset downloads within one pass.
const DefaultParallelism = 4

// DefaultBandwidthLimitBytesPerSec caps aggregate download throughput so
// sync doesn't starve playout I/O on the same disk/link.
const DefaultBandwidthLimitBytesPerSec = 4 << 20 // 4 MiB/s

// Result summarizes one sync pass.
type Result struct {
	AssetsDownloaded int
	AssetsTotal      int
	Duration         time.Duration
}

// ProgressFunc receives 0-100 as the pass advances (§4.2 protocol steps 4-5).
type ProgressFunc func(percent int)

// Engine runs sync passes against a single server using the given token.
type Engine struct {
	deps Deps
}

// New returns an Engine. deps.Parallelism and deps.BandwidthLimitBytesPerSec
// fall back to their Default* constants when zero.
func New(deps Deps) *Engine {
	if deps.Parallelism <= 0 {
		deps.Parallelism = DefaultParallelism
	}
	if deps.BandwidthLimitBytesPerSec <= 0 {
		deps.BandwidthLimitBytesPerSec = DefaultBandwidthLimitBytesPerSec
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Engine{deps: deps}
}

// Run executes one full sync pass: metadata fetch, download phase, commit
// phase. ctx cancellation aborts before the commit phase runs, leaving prior
// state untouched (§4.2 "Ordering & atomicity").
func (e *Engine) Run(ctx context.Context, token string, onProgress ProgressFunc) (Result, error) {
	logger := xlog.WithComponent("sync")
	start := e.deps.Clock()
	if onProgress == nil {
		onProgress = func(int) {}
	}

	logger.Info().Str("event", "sync.start").Msg("starting sync")

	result := e.deps.Client.Do(ctx, "GET", "export", token, nil, nil)
	if result.Err != nil {
		e.recordOutcome(start, false)
		logger.Error().Err(result.Err).Str("event", "sync.export_failed").Msg("export request failed")
		return Result{}, result.Err
	}
	onProgress(3)

	snap, mediaURL, err := parseExport(result.Body)
	if err != nil {
		e.recordOutcome(start, false)
		return Result{}, apierr.New(apierr.KindJSONDecodeError, "parsing export response", err)
	}

	plan, err := e.planDownloads(snap.Assets, mediaURL)
	if err != nil {
		e.recordOutcome(start, false)
		return Result{}, apierr.New(apierr.KindRequestsError, "planning asset downloads", err)
	}

	downloaded, dlErr := e.downloadAll(ctx, plan, token, onProgress)
	if dlErr != nil {
		e.recordOutcome(start, false)
		logger.Error().Err(dlErr).Str("event", "sync.download_failed").Msg("asset download failed")
		return Result{}, dlErr
	}

	if ctx.Err() != nil {
		logger.Info().Str("event", "sync.cancelled").Msg("sync cancelled before commit")
		return Result{}, ctx.Err()
	}

	if err := e.deps.Store.UpsertSnapshot(ctx, snap); err != nil {
		e.recordOutcome(start, false)
		return Result{}, apierr.New(apierr.KindStoreUnavailable, "applying synced snapshot", err)
	}
	onProgress(100)

	duration := e.deps.Clock().Sub(start)
	e.recordOutcome(start, true)
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveAssetsDownloaded(downloaded)
	}
	logger.Info().
		Str("event", "sync.complete").
		Int("assets_downloaded", downloaded).
		Dur("duration", duration).
		Msg("sync complete")

	return Result{AssetsDownloaded: downloaded, AssetsTotal: len(plan), Duration: duration}, nil
}

func (e *Engine) recordOutcome(start time.Time, ok bool) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.ObserveSyncDuration(e.deps.Clock().Sub(start), ok)
}
