// Package logshipper implements the Log Shipper (§4.5): it drains the
// Catalog Store's persistent FIFO of unshipped LogEntries, POSTing batches
// to /log with exponential backoff until a 2xx is received.
//
// Grounded on internal/jobs/fetch.go's fetchEPGWithRetry for the overall
// "retry until success or give up" shape, generalized from that function's
// hand-rolled attempt*attempt backoff to github.com/cenkalti/backoff/v5,
// matching §4.5's explicit 1s/2s/4s-capped-at-60s schedule.
package logshipper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/dtcooper/tomato/internal/apiclient"
	"github.com/dtcooper/tomato/internal/apierr"
	"github.com/dtcooper/tomato/internal/catalog"
	xlog "github.com/dtcooper/tomato/internal/log"
)

// ErrPaused is returned by ShipPending while the shipper is paused on a
// prior 403 (§4.6 "On auth failure, it pauses and signals the Auth
// component"). Call Resume once Auth reports a fresh login.
var ErrPaused = errors.New("logshipper: paused after access-denied response")

// Requester is the subset of *apiclient.Client the shipper needs.
type Requester interface {
	Do(ctx context.Context, method, endpoint, token string, form url.Values, jsonBody any) apiclient.Result
}

// Store is the subset of *catalog.Store the shipper reads and writes.
type Store interface {
	UnshippedLogEntries(ctx context.Context, limit int) ([]catalog.LogEntry, error)
	MarkShipped(ctx context.Context, ids []uuid.UUID) error
}

// DefaultBatchSize bounds how many entries go in a single /log POST.
const DefaultBatchSize = 100

// Deps holds everything the shipper needs, injected per this codebase's
// usual convention.
type Deps struct {
	Client    Requester
	Store     Store
	BatchSize int // 0 = DefaultBatchSize

	// OnAuthFailure is invoked once when a batch POST comes back 403,
	// before ShipPending returns ErrPaused (§4.6's "signals the Auth
	// component"). May be nil.
	OnAuthFailure func()
}

// Shipper drains Store's unshipped queue against Client.
type Shipper struct {
	deps Deps

	mu     sync.Mutex
	paused bool
}

// New returns a Shipper with deps.BatchSize defaulted if zero.
func New(deps Deps) *Shipper {
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	return &Shipper{deps: deps}
}

// Paused reports whether the shipper is sitting out after a 403.
func (s *Shipper) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Resume clears the paused flag, called once Auth reports a fresh login.
func (s *Shipper) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *Shipper) setPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.mu.Unlock()
}

// ShipPending ships every currently-queued batch in order, returning the
// number of entries successfully marked shipped. It stops and returns
// ErrPaused immediately on a 403 without touching the remaining queue;
// a context cancellation during a batch's backoff wait leaves that batch
// (and everything after it) unshipped in Store for the next call, so
// there is never an in-memory batch to lose on exit (§5 "flushes the
// current in-memory batch back to the persistent queue before exiting"
// falls out for free: the queue of record is the Catalog Store itself).
func (s *Shipper) ShipPending(ctx context.Context, token string) (int, error) {
	if s.Paused() {
		return 0, ErrPaused
	}

	logger := xlog.WithComponent("logshipper")
	shipped := 0
	for {
		batch, err := s.deps.Store.UnshippedLogEntries(ctx, s.deps.BatchSize)
		if err != nil {
			return shipped, fmt.Errorf("logshipper: loading unshipped entries: %w", err)
		}
		if len(batch) == 0 {
			return shipped, nil
		}

		if err := s.postBatch(ctx, token, batch); err != nil {
			if errors.Is(err, errAccessDenied) {
				logger.Error().Str("event", "logshipper.access_denied").Msg("pausing shipper after 403")
				return shipped, ErrPaused
			}
			return shipped, err
		}

		ids := make([]uuid.UUID, len(batch))
		for i, e := range batch {
			ids[i] = e.UUID
		}
		if err := s.deps.Store.MarkShipped(ctx, ids); err != nil {
			return shipped, fmt.Errorf("logshipper: marking shipped: %w", err)
		}
		shipped += len(batch)
		logger.Info().Int("count", len(batch)).Str("event", "logshipper.batch_shipped").Msg("shipped log batch")

		if len(batch) < s.deps.BatchSize {
			return shipped, nil
		}
	}
}

var errAccessDenied = errors.New("logshipper: access denied")

// postBatch POSTs batch to /log, retrying transport and non-2xx failures
// with exponential backoff (1s initial, doubling, capped at 60s, no
// elapsed-time ceiling — §4.5 "until a 2xx is received"). A 403 aborts
// immediately rather than retrying, since retrying an expired token can't
// succeed.
func (s *Shipper) postBatch(ctx context.Context, token string, batch []catalog.LogEntry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0

	body := wireEntries(batch)
	for {
		result := s.deps.Client.Do(ctx, "POST", "log", token, nil, body)
		if result.Err == nil {
			return nil
		}
		if result.Err.Kind == apierr.KindAccessDenied {
			s.setPaused(true)
			if s.deps.OnAuthFailure != nil {
				s.deps.OnAuthFailure()
			}
			return errAccessDenied
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("logshipper: giving up on batch: %w", result.Err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
