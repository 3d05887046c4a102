package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		Config: Config{Timezone: "US/Pacific", WaitIntervalMinutes: 20},
		Rotators: []Rotator{
			{ID: 1, Name: "Station IDs", Color: "blue"},
			{ID: 2, Name: "Ads", Color: "red"},
		},
		StopSets: []StopSet{
			{ID: 1, Name: "S1", Weight: 1, Eligibility: EligibilityWindow{Enabled: true}},
		},
		Slots: []RotatorSlot{
			{ID: 1, StopSetID: 1, RotatorID: 1, Position: 0},
			{ID: 2, StopSetID: 1, RotatorID: 2, Position: 1},
			{ID: 3, StopSetID: 1, RotatorID: 2, Position: 2},
			{ID: 4, StopSetID: 1, RotatorID: 1, Position: 3},
		},
		Assets: []Asset{
			{ID: 1, Name: "id1", Duration: 10 * time.Second, AudioRelPath: "assets/id1.mp3", AudioSize: 1000,
				Weight: 1, Eligibility: EligibilityWindow{Enabled: true}, RotatorIDs: []int64{1}},
			{ID: 2, Name: "ad1", Duration: 15 * time.Second, AudioRelPath: "assets/ad1.mp3", AudioSize: 2000,
				Weight: 1, Eligibility: EligibilityWindow{Enabled: true}, RotatorIDs: []int64{2}},
			{ID: 3, Name: "ad2", Duration: 20 * time.Second, AudioRelPath: "assets/ad2.mp3", AudioSize: 3000,
				Weight: 1, Eligibility: EligibilityWindow{Enabled: true}, RotatorIDs: []int64{2}},
		},
	}
}

func TestUpsertSnapshot_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.UpsertSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("UpsertSnapshot: %v", err)
	}

	now := time.Now()
	assets, err := store.ListCurrentlyEnabled(ctx, now)
	if err != nil {
		t.Fatalf("ListCurrentlyEnabled: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 currently enabled assets, got %d", len(assets))
	}

	slots, err := store.OrderedSlots(ctx, 1)
	if err != nil {
		t.Fatalf("OrderedSlots: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	for i, slot := range slots {
		if slot.Position != i {
			t.Errorf("expected slot %d to have position %d, got %d", i, i, slot.Position)
		}
	}
}

func TestUpsertSnapshot_Idempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	if err := store.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	firstAssets, err := store.ListCurrentlyEnabled(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListCurrentlyEnabled: %v", err)
	}

	if err := store.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	secondAssets, err := store.ListCurrentlyEnabled(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListCurrentlyEnabled: %v", err)
	}

	if len(firstAssets) != len(secondAssets) {
		t.Fatalf("expected idempotent apply: %d != %d", len(firstAssets), len(secondAssets))
	}
}

func TestUpsertSnapshot_DeletesAbsentIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	if err := store.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// Second snapshot drops asset id 3 entirely.
	reduced := snap
	reduced.Assets = snap.Assets[:2]
	if err := store.UpsertSnapshot(ctx, reduced); err != nil {
		t.Fatalf("reduced apply: %v", err)
	}

	assets, err := store.ListCurrentlyEnabled(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListCurrentlyEnabled: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected asset id 3 deleted, got %d assets", len(assets))
	}
}

func TestUpsertSnapshot_WeightNormalization(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()
	snap.Assets[0].Weight = 0

	if err := store.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("UpsertSnapshot: %v", err)
	}

	assets, err := store.RotatorAssets(ctx, 1, time.Now())
	if err != nil {
		t.Fatalf("RotatorAssets: %v", err)
	}
	if len(assets) != 1 || assets[0].Weight != 1 {
		t.Fatalf("expected zero weight normalized to 1, got %+v", assets)
	}
}

func TestEligibilityWindow_FutureAsset(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	future := time.Now().Add(time.Hour)
	snap.Assets[0].Eligibility.Begin = &future

	if err := store.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("UpsertSnapshot: %v", err)
	}

	assets, err := store.ListCurrentlyEnabled(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListCurrentlyEnabled: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected asset with future begin excluded, got %d assets", len(assets))
	}

	laterAssets, err := store.ListCurrentlyEnabled(ctx, future.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListCurrentlyEnabled (later): %v", err)
	}
	if len(laterAssets) != 3 {
		t.Fatalf("expected asset to become eligible after begin, got %d assets", len(laterAssets))
	}
}

func TestGetConfig_DefaultsOnMissingKeys(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cfg, err := store.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	want := DefaultConfig()
	if cfg != want {
		t.Errorf("expected default config on empty store, got %+v", cfg)
	}
}

func TestGetConfig_IgnoresInvalidTimezone(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()
	snap.Config.Timezone = "Not/A/Zone"

	if err := store.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("UpsertSnapshot: %v", err)
	}

	cfg, err := store.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.Timezone != DefaultTimezone {
		t.Errorf("expected fallback to %s, got %s", DefaultTimezone, cfg.Timezone)
	}
}

func TestLogEntry_EnqueueAndShip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entry := NewLogEntry(1, ActionPlayedAsset, nil, "played id1")
	if err := store.EnqueueLogEntry(ctx, entry); err != nil {
		t.Fatalf("EnqueueLogEntry: %v", err)
	}
	// Re-enqueue same UUID: must not duplicate.
	if err := store.EnqueueLogEntry(ctx, entry); err != nil {
		t.Fatalf("re-EnqueueLogEntry: %v", err)
	}

	unshipped, err := store.UnshippedLogEntries(ctx, 10)
	if err != nil {
		t.Fatalf("UnshippedLogEntries: %v", err)
	}
	if len(unshipped) != 1 {
		t.Fatalf("expected exactly 1 unshipped entry after duplicate enqueue, got %d", len(unshipped))
	}

	if err := store.MarkShipped(ctx, []uuid.UUID{entry.UUID}); err != nil {
		t.Fatalf("MarkShipped: %v", err)
	}

	remaining, err := store.UnshippedLogEntries(ctx, 10)
	if err != nil {
		t.Fatalf("UnshippedLogEntries after ship: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected 0 unshipped entries after MarkShipped, got %d", len(remaining))
	}
}
