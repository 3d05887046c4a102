package catalog

import (
	"strconv"
	"time"
)

// NormalizeConfig validates raw key/value config rows (as received from
// either the local config table or the server's /export "conf" object) onto
// cfg, which should already hold DefaultConfig(). This is the one place
// (§9 Open Question) that decides what happens to an out-of-range recognized
// value: malformed or missing values silently keep the default, while a
// negative wait_interval_minutes is clamped to 0 rather than rejected,
// matching the later server revisions' `max(0, wait_interval_minutes)`
// behavior the spec directs implementers to. Unrecognized keys are ignored
// (§4.2 "Failure semantics").
func NormalizeConfig(cfg *Config, raw map[string]string) {
	if tz, ok := raw["timezone"]; ok {
		if _, err := time.LoadLocation(tz); err == nil {
			cfg.Timezone = tz
		}
	}

	if v, ok := raw["wait_interval_minutes"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n <= 600 {
			if n < 0 {
				n = 0
			}
			cfg.WaitIntervalMinutes = n
		}
	}

	if v, ok := raw["wait_interval_subtracts_stopset_playtime"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WaitIntervalSubtractsStopSetPlaytime = b
		}
	}

	if v, ok := raw["fade_assets_ms"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 10000 {
			cfg.FadeAssetsMS = n
		}
	}

	if v, ok := raw["clickable_waveform"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ClickableWaveform = b
		}
	}
}
