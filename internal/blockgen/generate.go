// Package blockgen implements the Block Generator: given an instant, pick a
// StopSet and an ordered list of (Rotator, Asset-or-null) pairs according to
// weights, eligibility, and per-block de-duplication.
//
// Grounded on common/models.py's StopSet.generate_asset_block: sample a
// stop set weighted by its own weight, build one working-copy asset pool per
// distinct rotator in its slot order, walk the slots picking a
// weight-sampled asset from each rotator's pool and removing it from every
// pool it appears in, and retry with a different stop set if every rotator
// in the chosen one comes back empty ("dry").
package blockgen

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dtcooper/tomato/internal/catalog"
)

// ErrNoEligibleStopSet is returned when no StopSet is currently enabled and
// has at least one RotatorSlot.
var ErrNoEligibleStopSet = errors.New("no eligible stop set")

// ErrAllStopSetsDry is returned when every eligible StopSet's rotators are
// all empty.
var ErrAllStopSetsDry = errors.New("all eligible stop sets are dry")

// Store is the subset of the Catalog Store the generator reads from.
type Store interface {
	CurrentlyEnabledStopSets(ctx context.Context, at time.Time) ([]catalog.StopSet, error)
	OrderedSlots(ctx context.Context, stopSetID int64) ([]catalog.RotatorSlot, error)
	RotatorAssets(ctx context.Context, rotatorID int64, at time.Time) ([]catalog.Asset, error)
}

// SlotPlay is one resolved (Rotator, Asset-or-null) pair in a block plan.
type SlotPlay struct {
	RotatorID int64
	Asset     *catalog.Asset // nil when the rotator's pool was empty
}

// BlockPlan is the chosen StopSet plus its ordered, resolved slot plays.
type BlockPlan struct {
	StopSetID int64
	Plays     []SlotPlay
}

// NonNullCount returns how many slots in the plan got a real asset.
func (p *BlockPlan) NonNullCount() int {
	n := 0
	for _, play := range p.Plays {
		if play.Asset != nil {
			n++
		}
	}
	return n
}

// Generator produces block plans. The RNG is injectable so tests can assert
// on exact draws (§8).
type Generator struct {
	store Store
	rng   *rand.Rand
}

// New returns a Generator reading from store. If rng is nil, a new PCG
// source seeded from the current time is used.
func New(store Store, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return &Generator{store: store, rng: rng}
}

// Generate runs the algorithm in §4.3 against instant at.
func (g *Generator) Generate(ctx context.Context, at time.Time) (*BlockPlan, error) {
	candidates, err := g.store.CurrentlyEnabledStopSets(ctx, at)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoEligibleStopSet
	}

	for len(candidates) > 0 {
		idx := weightedIndex(g.rng, candidates, func(s catalog.StopSet) float64 {
			return catalog.NormalizeWeight(s.Weight)
		})
		chosen := candidates[idx]

		plan, err := g.tryStopSet(ctx, chosen, at)
		if err != nil {
			return nil, err
		}

		if plan.NonNullCount() > 0 {
			return plan, nil
		}

		// Dry: drop this stop set and retry with the remaining candidates.
		candidates = append(candidates[:idx], candidates[idx+1:]...)
	}

	return nil, ErrAllStopSetsDry
}

// tryStopSet builds one candidate plan for stopset s: per-rotator working
// pools, walked in slot order, with the chosen asset removed from every pool
// it appears in so it cannot air twice in the same block.
func (g *Generator) tryStopSet(ctx context.Context, s catalog.StopSet, at time.Time) (*BlockPlan, error) {
	slots, err := g.store.OrderedSlots(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	pools := make(map[int64][]catalog.Asset)
	for _, slot := range slots {
		if _, ok := pools[slot.RotatorID]; ok {
			continue
		}
		assets, err := g.store.RotatorAssets(ctx, slot.RotatorID, at)
		if err != nil {
			return nil, err
		}
		pools[slot.RotatorID] = assets
	}

	plan := &BlockPlan{StopSetID: s.ID, Plays: make([]SlotPlay, 0, len(slots))}

	for _, slot := range slots {
		pool := pools[slot.RotatorID]
		if len(pool) == 0 {
			plan.Plays = append(plan.Plays, SlotPlay{RotatorID: slot.RotatorID, Asset: nil})
			continue
		}

		idx := weightedIndex(g.rng, pool, func(a catalog.Asset) float64 {
			return catalog.NormalizeWeight(a.Weight)
		})
		chosen := pool[idx]
		plan.Plays = append(plan.Plays, SlotPlay{RotatorID: slot.RotatorID, Asset: &chosen})

		for rotatorID, p := range pools {
			pools[rotatorID] = removeByID(p, chosen.ID)
		}
	}

	return plan, nil
}

func removeByID(assets []catalog.Asset, id int64) []catalog.Asset {
	out := assets[:0]
	for _, a := range assets {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// weightedIndex samples an index from items with probability proportional
// to weight(item), using inverse-CDF over cumulative weights. Ties (equal
// weights) are broken by the underlying pseudorandom stream.
func weightedIndex[T any](rng *rand.Rand, items []T, weight func(T) float64) int {
	total := 0.0
	for _, item := range items {
		total += weight(item)
	}

	target := rng.Float64() * total
	cumulative := 0.0
	for i, item := range items {
		cumulative += weight(item)
		if target < cumulative {
			return i
		}
	}
	return len(items) - 1 // floating-point rounding fallback
}

// WaitInterval computes W per §4.3: 60*wait_interval_minutes, optionally
// minus the sum of actually-played asset durations, clamped at 0.
func WaitInterval(waitIntervalMinutes int, subtractPlaytime bool, playedDuration time.Duration) time.Duration {
	w := time.Duration(waitIntervalMinutes) * time.Minute
	if subtractPlaytime {
		w -= playedDuration
	}
	if w < 0 {
		return 0
	}
	return w
}
