// Package catalog is the Catalog Store: a local persisted mirror of Assets,
// Rotators, StopSets, RotatorSlots, and Config, with the eligibility queries
// the Block Generator and Playout Controller run against.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Color is one of the closed palette of 16 values a Rotator can be tagged
// with in the playout UI.
type Color string

// Colors is the closed palette, in the server admin's display order.
var Colors = []Color{
	"red", "pink", "purple", "deep-purple", "indigo", "blue", "light-blue",
	"cyan", "teal", "green", "light-green", "lime", "yellow", "amber",
	"orange", "deep-orange",
}

// Valid reports whether c is one of the closed palette values.
func (c Color) Valid() bool {
	for _, known := range Colors {
		if c == known {
			return true
		}
	}
	return false
}

// EligibilityWindow is the begin/end/enabled triple shared by Asset and
// StopSet. Begin and End are nil when unset.
type EligibilityWindow struct {
	Enabled bool
	Begin   *time.Time
	End     *time.Time
}

// CurrentlyAiring reports whether the window admits instant at.
func (w EligibilityWindow) CurrentlyAiring(at time.Time) bool {
	if w.Begin != nil && at.Before(*w.Begin) {
		return false
	}
	if w.End != nil && at.After(*w.End) {
		return false
	}
	return true
}

// CurrentlyEnabled is CurrentlyAiring gated by Enabled.
func (w EligibilityWindow) CurrentlyEnabled(at time.Time) bool {
	return w.Enabled && w.CurrentlyAiring(at)
}

// NormalizeWeight coerces a non-positive weight to 1, matching the source's
// EnabledBeginEndWeightMixin.save().
func NormalizeWeight(weight float64) float64 {
	if weight <= 0 {
		return 1
	}
	return weight
}

// Asset is a single playable audio item.
type Asset struct {
	ID           int64
	Name         string
	Duration     time.Duration
	AudioRelPath string // relative to media_url, as served by the sync protocol
	AudioSize    int64
	Weight       float64
	Eligibility  EligibilityWindow
	RotatorIDs   []int64
}

// Rotator is a named category of Assets.
type Rotator struct {
	ID    int64
	Name  string
	Color Color
}

// RotatorSlot (a.k.a. StopSetRotator) is an ordered reference from a StopSet
// to a Rotator. A Rotator may appear more than once in the same StopSet.
type RotatorSlot struct {
	ID        int64
	StopSetID int64
	RotatorID int64
	Position  int // stable order within the stop set; first slot plays first
}

// StopSet is an ordered sequence of RotatorSlots.
type StopSet struct {
	ID          int64
	Name        string
	Weight      float64
	Eligibility EligibilityWindow
}

// Action is the closed set of playout log actions.
type Action int

const (
	ActionPlayedAsset Action = iota + 1
	ActionSkippedAsset
	ActionPlayedStopSet
	ActionPlayedPartialStopSet
	ActionSkippedStopSet
	ActionWaited
)

func (a Action) String() string {
	switch a {
	case ActionPlayedAsset:
		return "PLAYED_ASSET"
	case ActionSkippedAsset:
		return "SKIPPED_ASSET"
	case ActionPlayedStopSet:
		return "PLAYED_STOPSET"
	case ActionPlayedPartialStopSet:
		return "PLAYED_PARTIAL_STOPSET"
	case ActionSkippedStopSet:
		return "SKIPPED_STOPSET"
	case ActionWaited:
		return "WAITED"
	default:
		return "UNKNOWN"
	}
}

// LogEntry records one playout outcome. UUID is the idempotency key the
// server ingests on.
type LogEntry struct {
	UUID        uuid.UUID
	Created     time.Time
	UserID      int64
	Action      Action
	Duration    *time.Duration
	Description string
	Shipped     bool
}

// NewLogEntry builds a LogEntry with a fresh UUID and the current instant.
func NewLogEntry(userID int64, action Action, duration *time.Duration, description string) LogEntry {
	if len(description) > 255 {
		description = description[:255]
	}
	return LogEntry{
		UUID:        uuid.New(),
		Created:     time.Now(),
		UserID:      userID,
		Action:      action,
		Duration:    duration,
		Description: description,
	}
}

// Config is the recognized, server-authoritative site configuration.
type Config struct {
	Timezone                              string // IANA name; falls back to DefaultTimezone if invalid
	WaitIntervalMinutes                   int    // 0-600
	WaitIntervalSubtractsStopSetPlaytime  bool   // whether wait interval is reduced by actual playtime
	FadeAssetsMS                          int    // 0-10000
	ClickableWaveform                     bool
}

// DefaultTimezone is used when the server value is absent or not a valid
// IANA zone name.
const DefaultTimezone = "US/Pacific"

// DefaultConfig returns the documented fallback values for recognized keys
// (§6 config defaults).
func DefaultConfig() Config {
	return Config{
		Timezone:                           DefaultTimezone,
		WaitIntervalMinutes:                20,
		WaitIntervalSubtractsStopSetPlaytime: false,
		FadeAssetsMS:                       0,
		ClickableWaveform:                  false,
	}
}
