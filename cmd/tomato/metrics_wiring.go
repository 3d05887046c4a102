package main

import (
	"context"
	"errors"
	"time"

	"github.com/dtcooper/tomato/internal/blockgen"
	"github.com/dtcooper/tomato/internal/catalog"
	"github.com/dtcooper/tomato/internal/metrics"
)

// meteredGenerator wraps a *blockgen.Generator so each Generate call's
// outcome (ok, no eligible stop set, all dry) is recorded, without
// touching blockgen's own tested internals. blockgen.Generate does not
// report how many dry stop sets it discarded, so the dry-retry count is
// always recorded as 0.
type meteredGenerator struct {
	inner *blockgen.Generator
}

func (g *meteredGenerator) Generate(ctx context.Context, at time.Time) (*blockgen.BlockPlan, error) {
	plan, err := g.inner.Generate(ctx, at)
	switch {
	case err == nil:
		metrics.RecordBlockOutcome("ok", 0)
	case errors.Is(err, blockgen.ErrNoEligibleStopSet):
		metrics.RecordBlockOutcome("no_eligible_stopset", 0)
	case errors.Is(err, blockgen.ErrAllStopSetsDry):
		metrics.RecordBlockOutcome("all_dry", 0)
	default:
		metrics.RecordBlockOutcome("error", 0)
	}
	return plan, err
}

// meteredLogStore wraps *catalog.Store so every playout LogEntry the
// controller enqueues is also counted by action in internal/metrics,
// mirroring the sync worker's direct metrics.Sync wiring.
type meteredLogStore struct {
	inner *catalog.Store
}

func (l *meteredLogStore) EnqueueLogEntry(ctx context.Context, entry catalog.LogEntry) error {
	metrics.RecordPlayoutAction(entry.Action.String())
	return l.inner.EnqueueLogEntry(ctx, entry)
}
