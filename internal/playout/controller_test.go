package playout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dtcooper/tomato/internal/blockgen"
	"github.com/dtcooper/tomato/internal/catalog"
)

type sinkCall struct {
	name string
	h    Handle
}

type fakeSink struct {
	calls     []sinkCall
	played    map[Handle]time.Duration
	loadErr   error
	playErr   map[Handle]error
	onEnded   map[Handle]func()
	nextID    int
	stopTaken map[Handle]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		played:    map[Handle]time.Duration{},
		playErr:   map[Handle]error{},
		onEnded:   map[Handle]func(){},
		stopTaken: map[Handle]bool{},
	}
}

func (f *fakeSink) Load(ctx context.Context, path string, fadeMS int) (Handle, error) {
	f.calls = append(f.calls, sinkCall{name: "load"})
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.nextID++
	h := f.nextID
	return h, nil
}

func (f *fakeSink) Play(h Handle) error {
	f.calls = append(f.calls, sinkCall{name: "play", h: h})
	return f.playErr[h]
}

func (f *fakeSink) Pause(h Handle) error {
	f.calls = append(f.calls, sinkCall{name: "pause", h: h})
	return nil
}

func (f *fakeSink) Resume(h Handle) error {
	f.calls = append(f.calls, sinkCall{name: "resume", h: h})
	return nil
}

func (f *fakeSink) Stop(h Handle) (time.Duration, error) {
	f.calls = append(f.calls, sinkCall{name: "stop", h: h})
	f.stopTaken[h] = true
	return f.played[h], nil
}

func (f *fakeSink) OnEnded(h Handle, callback func()) {
	f.onEnded[h] = callback
}

// end fires the registered natural-end callback for h, as the real sink
// would from its own thread.
func (f *fakeSink) end(h Handle) {
	if cb, ok := f.onEnded[h]; ok {
		cb()
	}
}

type fakeGenerator struct {
	plan *blockgen.BlockPlan
	err  error
}

func (f *fakeGenerator) Generate(ctx context.Context, at time.Time) (*blockgen.BlockPlan, error) {
	return f.plan, f.err
}

type fakeConfigStore struct {
	cfg catalog.Config
	err error
}

func (f *fakeConfigStore) GetConfig(ctx context.Context) (catalog.Config, error) {
	return f.cfg, f.err
}

type fakeLogStore struct {
	entries []catalog.LogEntry
	err     error
}

func (f *fakeLogStore) EnqueueLogEntry(ctx context.Context, entry catalog.LogEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func asset(id int64, name string, duration time.Duration) *catalog.Asset {
	return &catalog.Asset{ID: id, Name: name, Duration: duration, AudioRelPath: name + ".mp3"}
}

func newTestController(sink *fakeSink, gen *fakeGenerator, cfg *fakeConfigStore, logs *fakeLogStore) *Controller {
	return New(Deps{
		Generator:   gen,
		ConfigStore: cfg,
		LogStore:    logs,
		Sink:        sink,
		MediaDir:    "/media",
		Clock:       func() time.Time { return time.Unix(0, 0) },
		UserID:      7,
	})
}

func TestGenerateNextBlock_FullBlockPlaysToCompletion(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: asset(1, "a", time.Second)},
		{RotatorID: 1, Asset: asset(2, "b", 2 * time.Second)},
	}}
	sink := newFakeSink()
	logs := &fakeLogStore{}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: catalog.DefaultConfig()}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if c.State() != StatePlaying {
		t.Fatalf("expected Playing, got %s", c.State())
	}

	sink.end(1)
	if c.State() != StatePlaying {
		t.Fatalf("expected still Playing after first asset, got %s", c.State())
	}
	sink.end(2)
	if c.State() != StateWaitingBetweenBlocks {
		t.Fatalf("expected WaitingBetweenBlocks after block finished, got %s", c.State())
	}

	if len(logs.entries) != 3 {
		t.Fatalf("expected 3 log entries (2 played + 1 stopset), got %d: %+v", len(logs.entries), logs.entries)
	}
	if logs.entries[0].Action != catalog.ActionPlayedAsset || logs.entries[1].Action != catalog.ActionPlayedAsset {
		t.Errorf("expected first two entries PLAYED_ASSET, got %+v", logs.entries[:2])
	}
	if logs.entries[2].Action != catalog.ActionPlayedStopSet {
		t.Errorf("expected full block to log PLAYED_STOPSET, got %s", logs.entries[2].Action)
	}

	if err := c.WaitExpired(context.Background()); err != nil {
		t.Fatalf("WaitExpired: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected Idle after wait expired, got %s", c.State())
	}
	if len(logs.entries) != 4 || logs.entries[3].Action != catalog.ActionWaited {
		t.Fatalf("expected WaitExpired to log exactly one WAITED entry, got %+v", logs.entries)
	}
}

func TestSkipCurrentAsset_PartialStopSet(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: asset(1, "a", 5 * time.Second)},
		{RotatorID: 1, Asset: asset(2, "b", time.Second)},
	}}
	sink := newFakeSink()
	sink.played[1] = 2 * time.Second
	logs := &fakeLogStore{}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: catalog.DefaultConfig()}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if err := c.SkipCurrentAsset(context.Background()); err != nil {
		t.Fatalf("SkipCurrentAsset: %v", err)
	}
	sink.end(2)

	if c.State() != StateWaitingBetweenBlocks {
		t.Fatalf("expected WaitingBetweenBlocks, got %s", c.State())
	}
	var actions []catalog.Action
	for _, e := range logs.entries {
		actions = append(actions, e.Action)
	}
	want := []catalog.Action{catalog.ActionSkippedAsset, catalog.ActionPlayedAsset, catalog.ActionPlayedPartialStopSet}
	if len(actions) != len(want) {
		t.Fatalf("expected actions %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("action[%d] = %s, want %s", i, actions[i], want[i])
		}
	}
}

func TestAdvance_NullSlotSilentlySkipped(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: nil},
		{RotatorID: 2, Asset: asset(1, "a", time.Second)},
	}}
	sink := newFakeSink()
	logs := &fakeLogStore{}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: catalog.DefaultConfig()}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if len(logs.entries) != 0 {
		t.Fatalf("expected no log entry for null slot, got %+v", logs.entries)
	}
	if len(sink.calls) != 2 || sink.calls[0].name != "load" || sink.calls[1].name != "play" {
		t.Fatalf("expected the real asset to be loaded and played, got %+v", sink.calls)
	}
}

func TestGenerateNextBlock_EmptyPlanLogsWaitedImmediatelyAndWaitExpiredDoesNotDuplicate(t *testing.T) {
	sink := newFakeSink()
	logs := &fakeLogStore{}
	cfg := catalog.Config{WaitIntervalMinutes: 10}
	c := newTestController(sink, &fakeGenerator{err: blockgen.ErrAllStopSetsDry}, &fakeConfigStore{cfg: cfg}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if c.State() != StateWaitingBetweenBlocks {
		t.Fatalf("expected WaitingBetweenBlocks, got %s", c.State())
	}
	if len(logs.entries) != 1 || logs.entries[0].Action != catalog.ActionWaited {
		t.Fatalf("expected immediate WAITED log, got %+v", logs.entries)
	}
	if *logs.entries[0].Duration != 10*time.Minute {
		t.Errorf("expected full 10m wait logged, got %v", *logs.entries[0].Duration)
	}

	if err := c.WaitExpired(context.Background()); err != nil {
		t.Fatalf("WaitExpired: %v", err)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected WaitExpired not to log a second WAITED entry, got %+v", logs.entries)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected Idle, got %s", c.State())
	}
}

func TestSkipRestOfStopSet_LogsSkippedStopSetThenWaitedOnExpiry(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: asset(1, "a", 5 * time.Second)},
		{RotatorID: 1, Asset: asset(2, "b", 5 * time.Second)},
	}}
	sink := newFakeSink()
	sink.played[1] = 3 * time.Second
	logs := &fakeLogStore{}
	cfg := catalog.Config{WaitIntervalMinutes: 1, WaitIntervalSubtractsStopSetPlaytime: true}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: cfg}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if err := c.SkipRestOfStopSet(context.Background()); err != nil {
		t.Fatalf("SkipRestOfStopSet: %v", err)
	}
	if c.State() != StateWaitingBetweenBlocks {
		t.Fatalf("expected WaitingBetweenBlocks, got %s", c.State())
	}
	if len(logs.entries) != 1 || logs.entries[0].Action != catalog.ActionSkippedStopSet {
		t.Fatalf("expected a single SKIPPED_STOPSET entry, got %+v", logs.entries)
	}

	if err := c.WaitExpired(context.Background()); err != nil {
		t.Fatalf("WaitExpired: %v", err)
	}
	if len(logs.entries) != 2 || logs.entries[1].Action != catalog.ActionWaited {
		t.Fatalf("expected WaitExpired to log WAITED, got %+v", logs.entries)
	}
	want := 60*time.Second - 3*time.Second
	if *logs.entries[1].Duration != want {
		t.Errorf("expected wait %v subtracting played time, got %v", want, *logs.entries[1].Duration)
	}
}

func TestPauseResume_NoStateChangeNoLog(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: asset(1, "a", time.Second)},
	}}
	sink := newFakeSink()
	logs := &fakeLogStore{}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: catalog.DefaultConfig()}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if c.State() != StatePlaying {
		t.Fatalf("expected still Playing, got %s", c.State())
	}
	if len(logs.entries) != 0 {
		t.Fatalf("expected pause/resume to log nothing, got %+v", logs.entries)
	}
}

func TestShutdown_StopsSinkWithoutLogging(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: asset(1, "a", time.Second)},
	}}
	sink := newFakeSink()
	logs := &fakeLogStore{}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: catalog.DefaultConfig()}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	c.Shutdown()

	if c.State() != StateFinished {
		t.Fatalf("expected Finished, got %s", c.State())
	}
	if !sink.stopTaken[1] {
		t.Error("expected shutdown to stop the loaded handle")
	}
	if len(logs.entries) != 0 {
		t.Errorf("expected shutdown to log nothing, got %+v", logs.entries)
	}
}

func TestOnAssetEnded_IgnoresStaleHandleAfterSkip(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: asset(1, "a", time.Second)},
		{RotatorID: 1, Asset: asset(2, "b", time.Second)},
	}}
	sink := newFakeSink()
	logs := &fakeLogStore{}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: catalog.DefaultConfig()}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if err := c.SkipCurrentAsset(context.Background()); err != nil {
		t.Fatalf("SkipCurrentAsset: %v", err)
	}

	before := len(logs.entries)
	// The first handle's natural-end callback races in after it was already
	// skipped past; it must be ignored rather than double-logged.
	sink.end(1)
	if len(logs.entries) != before {
		t.Fatalf("expected stale ended-callback to be ignored, got %+v", logs.entries)
	}
}

func TestGenerateNextBlock_RequiresIdle(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: asset(1, "a", time.Second)},
	}}
	sink := newFakeSink()
	logs := &fakeLogStore{}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: catalog.DefaultConfig()}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if err := c.GenerateNextBlock(context.Background()); err == nil {
		t.Error("expected error calling generate_next_block while Playing")
	}
}

func TestAdvance_LoadFailureLogsSkippedAndContinues(t *testing.T) {
	plan := &blockgen.BlockPlan{StopSetID: 1, Plays: []blockgen.SlotPlay{
		{RotatorID: 1, Asset: asset(1, "a", time.Second)},
		{RotatorID: 1, Asset: asset(2, "b", time.Second)},
	}}
	sink := newFakeSink()
	sink.loadErr = errors.New("decode failed")
	logs := &fakeLogStore{}
	cfg := catalog.Config{WaitIntervalMinutes: 5}
	c := newTestController(sink, &fakeGenerator{plan: plan}, &fakeConfigStore{cfg: cfg}, logs)

	if err := c.GenerateNextBlock(context.Background()); err != nil {
		t.Fatalf("GenerateNextBlock: %v", err)
	}
	if c.State() != StateWaitingBetweenBlocks {
		t.Fatalf("expected every slot to fail to load and the block to finish, got %s", c.State())
	}
	if len(logs.entries) != 3 {
		t.Fatalf("expected 2 SKIPPED_ASSET + 1 PLAYED_PARTIAL_STOPSET, got %+v", logs.entries)
	}
	if logs.entries[2].Action != catalog.ActionPlayedPartialStopSet {
		t.Errorf("expected partial stopset since every slot failed to load, got %s", logs.entries[2].Action)
	}
}
