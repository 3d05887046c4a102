package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dtcooper/tomato/internal/catalog"
)

// exportResponse is the top-level shape of GET /export (§4.2 step 2):
// recognized config keys, the asset media base URL, and a heterogeneous
// list of entities tagged by kind.
type exportResponse struct {
	Conf     map[string]string `json:"conf"`
	MediaURL string            `json:"media_url"`
	Objects  []json.RawMessage `json:"objects"`
}

type objectEnvelope struct {
	Kind string `json:"kind"`
}

type wireAsset struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	DurationMS   int64   `json:"duration_ms"`
	AudioRelPath string  `json:"audio_path"`
	AudioSize    int64   `json:"audio_size"`
	Weight       float64 `json:"weight"`
	Enabled      bool    `json:"enabled"`
	Begin        *int64  `json:"begin"` // unix millis
	End          *int64  `json:"end"`
	RotatorIDs   []int64 `json:"rotator_ids"`
}

type wireRotator struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type wireStopSet struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
	Begin   *int64  `json:"begin"`
	End     *int64  `json:"end"`
}

type wireRotatorSlot struct {
	ID        int64 `json:"id"`
	StopSetID int64 `json:"stopset_id"`
	RotatorID int64 `json:"rotator_id"`
}

func unixMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

// parseExport decodes body (as returned by apiclient, already a generic
// map[string]any) into a typed exportResponse and then into a
// catalog.Snapshot plus the media base URL for the download phase.
//
// Objects is tagged by "kind" rather than split into separate top-level
// arrays, mirroring /export's single heterogeneous objects list (§4.2 step 2).
// Slot position is assigned by first-seen order within each stop set, since
// the source has no user-settable position column (SUPPLEMENTED FEATURES,
// "StopSetRotator ordering by id").
func parseExport(body map[string]any) (catalog.Snapshot, string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return catalog.Snapshot{}, "", fmt.Errorf("sync: re-marshal export body: %w", err)
	}

	var resp exportResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return catalog.Snapshot{}, "", fmt.Errorf("sync: decode export body: %w", err)
	}

	cfg := catalog.DefaultConfig()
	catalog.NormalizeConfig(&cfg, resp.Conf)
	snap := catalog.Snapshot{Config: cfg}
	slotPosition := make(map[int64]int)

	for _, rawObj := range resp.Objects {
		var env objectEnvelope
		if err := json.Unmarshal(rawObj, &env); err != nil {
			return catalog.Snapshot{}, "", fmt.Errorf("sync: decode object envelope: %w", err)
		}

		switch env.Kind {
		case "asset":
			var a wireAsset
			if err := json.Unmarshal(rawObj, &a); err != nil {
				return catalog.Snapshot{}, "", fmt.Errorf("sync: decode asset: %w", err)
			}
			snap.Assets = append(snap.Assets, catalog.Asset{
				ID:           a.ID,
				Name:         a.Name,
				Duration:     time.Duration(a.DurationMS) * time.Millisecond,
				AudioRelPath: a.AudioRelPath,
				AudioSize:    a.AudioSize,
				Weight:       a.Weight,
				Eligibility: catalog.EligibilityWindow{
					Enabled: a.Enabled,
					Begin:   unixMillisPtr(a.Begin),
					End:     unixMillisPtr(a.End),
				},
				RotatorIDs: a.RotatorIDs,
			})

		case "rotator":
			var r wireRotator
			if err := json.Unmarshal(rawObj, &r); err != nil {
				return catalog.Snapshot{}, "", fmt.Errorf("sync: decode rotator: %w", err)
			}
			snap.Rotators = append(snap.Rotators, catalog.Rotator{ID: r.ID, Name: r.Name, Color: catalog.Color(r.Color)})

		case "stopset":
			var s wireStopSet
			if err := json.Unmarshal(rawObj, &s); err != nil {
				return catalog.Snapshot{}, "", fmt.Errorf("sync: decode stopset: %w", err)
			}
			snap.StopSets = append(snap.StopSets, catalog.StopSet{
				ID:     s.ID,
				Name:   s.Name,
				Weight: s.Weight,
				Eligibility: catalog.EligibilityWindow{
					Enabled: s.Enabled,
					Begin:   unixMillisPtr(s.Begin),
					End:     unixMillisPtr(s.End),
				},
			})

		case "rotator_slot":
			var sl wireRotatorSlot
			if err := json.Unmarshal(rawObj, &sl); err != nil {
				return catalog.Snapshot{}, "", fmt.Errorf("sync: decode rotator_slot: %w", err)
			}
			pos := slotPosition[sl.StopSetID]
			slotPosition[sl.StopSetID] = pos + 1
			snap.Slots = append(snap.Slots, catalog.RotatorSlot{
				ID: sl.ID, StopSetID: sl.StopSetID, RotatorID: sl.RotatorID, Position: pos,
			})

		default:
			// Unrecognized kind: ignored, matching "missing keys fall back to
			// documented defaults" latitude for forward-compatible servers.
		}
	}

	return snap, resp.MediaURL, nil
}
