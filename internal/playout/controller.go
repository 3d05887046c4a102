// Package playout implements the Playout Controller (§4.4): the state
// machine that turns a generated block plan into audible output and the
// LogEntries describing what actually happened.
//
// Grounded on the mutex-guarded, component-logged struct shape of the
// teacher's daemon.manager (internal/daemon/manager.go) — one owning type,
// one lock, explicit state, no package-level globals.
package playout

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dtcooper/tomato/internal/apierr"
	"github.com/dtcooper/tomato/internal/blockgen"
	"github.com/dtcooper/tomato/internal/catalog"
	xlog "github.com/dtcooper/tomato/internal/log"
)

// State is one of the four states in §4.4's machine.
type State int

const (
	StateIdle State = iota
	StateWaitingBetweenBlocks
	StatePlaying
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaitingBetweenBlocks:
		return "WaitingBetweenBlocks"
	case StatePlaying:
		return "Playing"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Handle is an opaque reference to a loaded asset, returned by AudioSink.Load
// and passed back to Play/Stop/OnEnded. Its identity lets the controller
// ignore a stale ended-callback that races against a skip.
type Handle any

// AudioSink is the external audio subsystem boundary (§4.4 "Audio handoff").
// The controller never decodes audio itself.
type AudioSink interface {
	Load(ctx context.Context, path string, fadeMS int) (Handle, error)
	Play(h Handle) error
	Pause(h Handle) error
	Resume(h Handle) error
	// Stop halts playback and returns how long it had actually played.
	Stop(h Handle) (time.Duration, error)
	// OnEnded registers a callback fired exactly once, from the sink's own
	// thread, when h reaches natural end-of-file.
	OnEnded(h Handle, callback func())
}

// Generator produces block plans; *blockgen.Generator satisfies this.
type Generator interface {
	Generate(ctx context.Context, at time.Time) (*blockgen.BlockPlan, error)
}

// ConfigStore supplies the recognized site configuration driving wait
// interval and fade computation; *catalog.Store satisfies this.
type ConfigStore interface {
	GetConfig(ctx context.Context) (catalog.Config, error)
}

// LogStore is the single write path for playout LogEntries; *catalog.Store
// satisfies this via EnqueueLogEntry.
type LogStore interface {
	EnqueueLogEntry(ctx context.Context, entry catalog.LogEntry) error
}

// Deps holds everything the controller needs, injected per the teacher's
// Deps-struct convention used throughout this codebase.
type Deps struct {
	Generator   Generator
	ConfigStore ConfigStore
	LogStore    LogStore
	Sink        AudioSink
	MediaDir    string
	Clock       func() time.Time
	UserID      int64
}

// Controller runs the state machine. All operator-action methods and the
// sink's ended-callback take the same lock, giving the FIFO event ordering
// §5 requires on the UI thread without a separate dispatch queue.
type Controller struct {
	deps Deps
	mu   sync.Mutex

	state     State
	plan      *blockgen.BlockPlan
	slotIndex int

	handle       Handle
	handleAsset  *catalog.Asset
	hasHandle    bool
	blockPartial bool // true once any slot in the current block was skipped or failed to load
	totalPlayed  time.Duration
	waitDuration time.Duration // the W the machine is currently waiting out

	// waitAlreadyLogged is set when entering WaitingBetweenBlocks from an
	// empty generated plan: that path logs ACTION_WAITED immediately
	// (§4.4 "log the full wait duration and go to WaitingBetweenBlocks")
	// rather than at expiry, so WaitExpired must not log it a second time.
	waitAlreadyLogged bool
}

// New returns an Idle Controller.
func New(deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Controller{deps: deps, state: StateIdle}
}

// State returns the current state under lock.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GenerateNextBlock runs the Block Generator and transitions to Playing with
// the resulting plan, or to WaitingBetweenBlocks if no plan could be made
// (§4.4 "On generate_next_block while Idle").
func (c *Controller) GenerateNextBlock(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("playout: generate_next_block requires Idle, got %s", c.state)
	}

	cfg, err := c.deps.ConfigStore.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("playout: loading config: %w", err)
	}

	plan, err := c.deps.Generator.Generate(ctx, c.deps.Clock())
	if err != nil {
		full := time.Duration(cfg.WaitIntervalMinutes) * time.Minute
		c.logAction(ctx, catalog.ActionWaited, &full, "no eligible stop set had an available asset")
		c.enterWaiting(full)
		c.waitAlreadyLogged = true
		return nil
	}

	c.plan = plan
	c.slotIndex = 0
	c.blockPartial = false
	c.totalPlayed = 0
	c.state = StatePlaying
	c.advanceLocked(ctx)
	return nil
}

// advanceLocked processes slotIndex forward: skipping null slots silently,
// loading and playing the next real asset, or finalizing the block once all
// slots are consumed. Must be called with c.mu held.
func (c *Controller) advanceLocked(ctx context.Context) {
	for c.slotIndex < len(c.plan.Plays) {
		play := c.plan.Plays[c.slotIndex]
		if play.Asset == nil {
			// Silent skip: the null slot was already accounted for when the
			// block plan was generated (§4.4).
			c.slotIndex++
			continue
		}

		path := filepath.Join(c.deps.MediaDir, play.Asset.AudioRelPath)
		fadeMS := 0
		if cfg, cfgErr := c.deps.ConfigStore.GetConfig(ctx); cfgErr == nil {
			fadeMS = cfg.FadeAssetsMS
		}
		handle, err := c.deps.Sink.Load(ctx, path, fadeMS)
		if err != nil {
			c.blockPartial = true
			c.logAction(ctx, catalog.ActionSkippedAsset, durationPtr(0),
				fmt.Sprintf("could not load %s: %v", play.Asset.Name, apierr.New(apierr.KindAudioDecodeError, "", err)))
			c.slotIndex++
			continue
		}

		c.handle = handle
		c.handleAsset = play.Asset
		c.hasHandle = true

		current := handle
		c.deps.Sink.OnEnded(handle, func() {
			c.onAssetEnded(current)
		})

		if err := c.deps.Sink.Play(handle); err != nil {
			c.blockPartial = true
			c.hasHandle = false
			c.logAction(ctx, catalog.ActionSkippedAsset, durationPtr(0),
				fmt.Sprintf("could not play %s: %v", play.Asset.Name, err))
			c.slotIndex++
			continue
		}
		return
	}

	c.finishBlockLocked(ctx)
}

// onAssetEnded is the sink's natural-end callback. It ignores a stale handle
// from an asset already skipped past.
func (c *Controller) onAssetEnded(handle Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying || !c.hasHandle || c.handle != handle {
		return
	}

	ctx := context.Background()
	duration := c.handleAsset.Duration
	c.totalPlayed += duration
	c.logAction(ctx, catalog.ActionPlayedAsset, durationPtr(duration), c.handleAsset.Name)

	c.hasHandle = false
	c.slotIndex++
	c.advanceLocked(ctx)
}

// SkipCurrentAsset stops whatever is loaded, logs ACTION_SKIPPED_ASSET with
// the position reached, and advances to the next slot.
func (c *Controller) SkipCurrentAsset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying || !c.hasHandle {
		return fmt.Errorf("playout: skip_current_asset requires a playing asset, state=%s", c.state)
	}

	played, err := c.deps.Sink.Stop(c.handle)
	if err != nil {
		return fmt.Errorf("playout: stopping sink: %w", err)
	}
	c.totalPlayed += played
	c.blockPartial = true
	c.logAction(ctx, catalog.ActionSkippedAsset, durationPtr(played), c.handleAsset.Name)

	c.hasHandle = false
	c.slotIndex++
	c.advanceLocked(ctx)
	return nil
}

// SkipRestOfStopSet abandons the remainder of the current block, logs
// ACTION_SKIPPED_STOPSET, and transitions to WaitingBetweenBlocks.
func (c *Controller) SkipRestOfStopSet(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying {
		return fmt.Errorf("playout: skip_rest_of_stopset requires Playing, got %s", c.state)
	}

	if c.hasHandle {
		if played, err := c.deps.Sink.Stop(c.handle); err == nil {
			c.totalPlayed += played
		}
		c.hasHandle = false
	}

	c.logAction(ctx, catalog.ActionSkippedStopSet, nil, "")
	w, err := c.computeWait(ctx)
	if err != nil {
		return err
	}
	c.enterWaiting(w)
	return nil
}

// finishBlockLocked is called once every slot has been consumed naturally
// (no explicit skip_rest_of_stopset). Must be called with c.mu held.
func (c *Controller) finishBlockLocked(ctx context.Context) {
	action := catalog.ActionPlayedStopSet
	if c.blockPartial {
		action = catalog.ActionPlayedPartialStopSet
	}
	c.logAction(ctx, action, nil, "")

	w, err := c.computeWait(ctx)
	if err != nil {
		// Config is unreachable; fall back to the documented default rather
		// than getting stuck Playing forever.
		w = time.Duration(catalog.DefaultConfig().WaitIntervalMinutes) * time.Minute
	}
	c.enterWaiting(w)
}

func (c *Controller) computeWait(ctx context.Context) (time.Duration, error) {
	cfg, err := c.deps.ConfigStore.GetConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("playout: loading config for wait interval: %w", err)
	}
	return blockgen.WaitInterval(cfg.WaitIntervalMinutes, cfg.WaitIntervalSubtractsStopSetPlaytime, c.totalPlayed), nil
}

func (c *Controller) enterWaiting(w time.Duration) {
	c.state = StateWaitingBetweenBlocks
	c.waitDuration = w
	c.waitAlreadyLogged = false
	c.plan = nil
}

// WaitExpired transitions WaitingBetweenBlocks back to Idle, logging
// ACTION_WAITED with the interval just waited out. The caller (the
// production driver, a real timer; a test, direct invocation) decides when
// the wait has actually elapsed.
func (c *Controller) WaitExpired(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateWaitingBetweenBlocks {
		return fmt.Errorf("playout: wait_expired requires WaitingBetweenBlocks, got %s", c.state)
	}

	if !c.waitAlreadyLogged {
		c.logAction(ctx, catalog.ActionWaited, durationPtr(c.waitDuration), "")
	}
	c.state = StateIdle
	return nil
}

// Pause pauses the currently loaded asset, if any. No state transition, no
// log entry (§4.4 only lists transitions/logs for the other actions).
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying || !c.hasHandle {
		return fmt.Errorf("playout: pause requires a playing asset, state=%s", c.state)
	}
	return c.deps.Sink.Pause(c.handle)
}

// Resume resumes the currently loaded asset, if any.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying || !c.hasHandle {
		return fmt.Errorf("playout: resume requires a playing asset, state=%s", c.state)
	}
	return c.deps.Sink.Resume(c.handle)
}

// Shutdown is terminal from any state (§4.4). It stops any in-flight asset
// without logging a skip (only sync's and the shipper's own flush paths
// persist queued entries; shutdown itself creates none).
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasHandle {
		_, _ = c.deps.Sink.Stop(c.handle)
		c.hasHandle = false
	}
	c.state = StateFinished
}

func (c *Controller) logAction(ctx context.Context, action catalog.Action, duration *time.Duration, description string) {
	entry := catalog.NewLogEntry(c.deps.UserID, action, duration, description)
	if err := c.deps.LogStore.EnqueueLogEntry(ctx, entry); err != nil {
		xlog.WithComponent("playout").Error().Err(err).
			Str("event", "playout.log_enqueue_failed").
			Str("action", action.String()).
			Msg("failed to enqueue log entry")
	}
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
