// Package metrics provides the small Prometheus counter/histogram set
// backing the diagnostic server (§6 persisted-state + §5 concurrency):
// one family per component that does non-trivial I/O (sync, block
// generation, playout, log shipping), labelled by outcome or action where
// a family has more than one series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tomato_sync_duration_seconds",
		Help:    "Duration of Sync Engine passes by outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"}) // outcome=success|failure

	syncAssetsDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tomato_sync_assets_downloaded_total",
		Help: "Total number of asset files downloaded across all sync passes.",
	})

	blockGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tomato_block_generated_total",
		Help: "Block Generator outcomes.",
	}, []string{"outcome"}) // outcome=ok|no_eligible_stopset|all_dry

	blockDryRetries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tomato_block_dry_retries",
		Help:    "Number of dry stop sets skipped before a block plan was accepted.",
		Buckets: []float64{0, 1, 2, 3, 5, 8},
	})

	playoutActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tomato_playout_actions_total",
		Help: "LogEntry actions emitted by the Playout Controller.",
	}, []string{"action"}) // action = one of catalog.Action's String() values

	shipperBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tomato_logshipper_batches_total",
		Help: "Log Shipper batch POST outcomes.",
	}, []string{"outcome"}) // outcome=shipped|retry|access_denied

	shipperQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tomato_logshipper_queue_depth",
		Help: "Unshipped LogEntries observed at the start of the most recent ShipPending call.",
	})
)

// Sync records one sync.Engine.Run outcome. Implements sync.Metrics.
type Sync struct{}

// ObserveSyncDuration records d under outcome=success|failure.
func (Sync) ObserveSyncDuration(d time.Duration, ok bool) {
	syncDuration.WithLabelValues(outcomeLabel(ok)).Observe(d.Seconds())
}

// ObserveAssetsDownloaded adds n to the running asset-download total.
func (Sync) ObserveAssetsDownloaded(n int) {
	syncAssetsDownloaded.Add(float64(n))
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordBlockOutcome records one Block Generator call (§4.3): outcome is
// "ok", "no_eligible_stopset", or "all_dry"; dryRetries is the number of
// stop sets discarded as dry before outcome was reached.
func RecordBlockOutcome(outcome string, dryRetries int) {
	blockGenerated.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		blockDryRetries.Observe(float64(dryRetries))
	}
}

// RecordPlayoutAction records one LogEntry action emitted by the Playout
// Controller (§4.4/§7's closed action vocabulary).
func RecordPlayoutAction(action string) {
	playoutActions.WithLabelValues(action).Inc()
}

// RecordShipperBatch records the outcome of one shipper worker pass
// (§4.5: "shipped", "retry", or "access_denied"); POST attempts retried
// inside a pass are not counted separately.
func RecordShipperBatch(outcome string) {
	shipperBatches.WithLabelValues(outcome).Inc()
}

// SetShipperQueueDepth records the unshipped queue depth observed at the
// start of a ShipPending call.
func SetShipperQueueDepth(n int) {
	shipperQueueDepth.Set(float64(n))
}
