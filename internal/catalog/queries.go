package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Snapshot is the full server-authoritative state received from /export,
// partitioned by kind, ready to be applied in one transaction.
type Snapshot struct {
	Config   Config
	Assets   []Asset
	Rotators []Rotator
	StopSets []StopSet
	Slots    []RotatorSlot
}

// UpsertSnapshot transactionally replaces every Asset, Rotator, StopSet, and
// RotatorSlot by id: entries present in snap are upserted, entries whose id
// is absent from snap are deleted. All-or-nothing — a crash mid-apply
// leaves the prior snapshot intact because everything runs inside one
// transaction (§3-inv-5).
func (s *Store) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertRotators(tx, snap.Rotators); err != nil {
			return err
		}
		if err := upsertStopSets(tx, snap.StopSets); err != nil {
			return err
		}
		if err := upsertSlots(tx, snap.Slots); err != nil {
			return err
		}
		if err := upsertAssets(tx, snap.Assets); err != nil {
			return err
		}
		if err := upsertConfig(tx, snap.Config); err != nil {
			return err
		}
		return nil
	})
}

func unixPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}

func upsertRotators(tx *sql.Tx, rotators []Rotator) error {
	keep := make([]any, 0, len(rotators))
	for _, r := range rotators {
		keep = append(keep, r.ID)
		_, err := tx.Exec(`
			INSERT INTO rotators (id, name, color) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, color = excluded.color`,
			r.ID, r.Name, string(r.Color))
		if err != nil {
			return fmt.Errorf("catalog: upsert rotator %d: %w", r.ID, err)
		}
	}
	return deleteAbsent(tx, "rotators", keep)
}

func upsertStopSets(tx *sql.Tx, stopsets []StopSet) error {
	keep := make([]any, 0, len(stopsets))
	for _, ss := range stopsets {
		keep = append(keep, ss.ID)
		_, err := tx.Exec(`
			INSERT INTO stopsets (id, name, enabled, begin, end, weight) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, enabled = excluded.enabled,
				begin = excluded.begin, end = excluded.end, weight = excluded.weight`,
			ss.ID, ss.Name, ss.Eligibility.Enabled, unixPtr(ss.Eligibility.Begin), unixPtr(ss.Eligibility.End),
			NormalizeWeight(ss.Weight))
		if err != nil {
			return fmt.Errorf("catalog: upsert stopset %d: %w", ss.ID, err)
		}
	}
	return deleteAbsent(tx, "stopsets", keep)
}

func upsertSlots(tx *sql.Tx, slots []RotatorSlot) error {
	keep := make([]any, 0, len(slots))
	for _, slot := range slots {
		keep = append(keep, slot.ID)
		_, err := tx.Exec(`
			INSERT INTO stopset_rotators (id, stopset_id, rotator_id, position) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				stopset_id = excluded.stopset_id, rotator_id = excluded.rotator_id, position = excluded.position`,
			slot.ID, slot.StopSetID, slot.RotatorID, slot.Position)
		if err != nil {
			return fmt.Errorf("catalog: upsert slot %d: %w", slot.ID, err)
		}
	}
	return deleteAbsent(tx, "stopset_rotators", keep)
}

func upsertAssets(tx *sql.Tx, assets []Asset) error {
	keep := make([]any, 0, len(assets))
	for _, a := range assets {
		keep = append(keep, a.ID)
		_, err := tx.Exec(`
			INSERT INTO assets (id, name, duration_ms, audio_rel_path, audio_size, enabled, begin, end, weight)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, duration_ms = excluded.duration_ms,
				audio_rel_path = excluded.audio_rel_path, audio_size = excluded.audio_size,
				enabled = excluded.enabled, begin = excluded.begin, end = excluded.end, weight = excluded.weight`,
			a.ID, a.Name, a.Duration.Milliseconds(), a.AudioRelPath, a.AudioSize,
			a.Eligibility.Enabled, unixPtr(a.Eligibility.Begin), unixPtr(a.Eligibility.End),
			NormalizeWeight(a.Weight))
		if err != nil {
			return fmt.Errorf("catalog: upsert asset %d: %w", a.ID, err)
		}

		if _, err := tx.Exec(`DELETE FROM asset_rotators WHERE asset_id = ?`, a.ID); err != nil {
			return fmt.Errorf("catalog: clear asset_rotators for %d: %w", a.ID, err)
		}
		for _, rotatorID := range a.RotatorIDs {
			if _, err := tx.Exec(`INSERT INTO asset_rotators (asset_id, rotator_id) VALUES (?, ?)`,
				a.ID, rotatorID); err != nil {
				return fmt.Errorf("catalog: insert asset_rotator (%d, %d): %w", a.ID, rotatorID, err)
			}
		}
	}
	return deleteAbsent(tx, "assets", keep)
}

func upsertConfig(tx *sql.Tx, cfg Config) error {
	values := map[string]string{
		"timezone":                                 cfg.Timezone,
		"wait_interval_minutes":                     fmt.Sprintf("%d", cfg.WaitIntervalMinutes),
		"wait_interval_subtracts_stopset_playtime":  fmt.Sprintf("%t", cfg.WaitIntervalSubtractsStopSetPlaytime),
		"fade_assets_ms":                            fmt.Sprintf("%d", cfg.FadeAssetsMS),
		"clickable_waveform":                        fmt.Sprintf("%t", cfg.ClickableWaveform),
	}
	for key, value := range values {
		_, err := tx.Exec(`
			INSERT INTO config (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return fmt.Errorf("catalog: upsert config %s: %w", key, err)
		}
	}
	return nil
}

// deleteAbsent removes every row from table whose id is not in keep. Used
// to enforce §3-inv-5: after a snapshot apply, ids not in the server's
// snapshot are gone locally.
func deleteAbsent(tx *sql.Tx, table string, keep []any) error {
	if len(keep) == 0 {
		_, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s`, table))
		return err
	}

	placeholders := make([]byte, 0, len(keep)*2)
	for i := range keep {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id NOT IN (%s)`, table, string(placeholders))
	_, err := tx.Exec(query, keep...)
	return err
}

// ListCurrentlyEnabled returns every Asset that is currently enabled at at.
func (s *Store) ListCurrentlyEnabled(ctx context.Context, at time.Time) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, duration_ms, audio_rel_path, audio_size, enabled, begin, end, weight
		FROM assets WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list enabled assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		if a.Eligibility.CurrentlyEnabled(at) {
			assets = append(assets, a)
		}
	}
	return assets, rows.Err()
}

func scanAsset(rows *sql.Rows) (Asset, error) {
	var a Asset
	var durationMS int64
	var enabled int
	var begin, end sql.NullInt64

	if err := rows.Scan(&a.ID, &a.Name, &durationMS, &a.AudioRelPath, &a.AudioSize, &enabled, &begin, &end, &a.Weight); err != nil {
		return Asset{}, fmt.Errorf("catalog: scan asset: %w", err)
	}

	a.Duration = time.Duration(durationMS) * time.Millisecond
	a.Eligibility = EligibilityWindow{Enabled: enabled != 0, Begin: timePtr(begin), End: timePtr(end)}
	return a, nil
}

// RotatorAssets returns the currently-enabled Assets belonging to rotatorID
// at instant at. Grounded on common/models.py's
// `rotator.assets.currently_enabled(now=now)`.
func (s *Store) RotatorAssets(ctx context.Context, rotatorID int64, at time.Time) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.duration_ms, a.audio_rel_path, a.audio_size, a.enabled, a.begin, a.end, a.weight
		FROM assets a
		JOIN asset_rotators ar ON ar.asset_id = a.id
		WHERE ar.rotator_id = ? AND a.enabled = 1`, rotatorID)
	if err != nil {
		return nil, fmt.Errorf("catalog: rotator assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		if a.Eligibility.CurrentlyEnabled(at) {
			assets = append(assets, a)
		}
	}
	return assets, rows.Err()
}

// CurrentlyEnabledStopSets returns every StopSet that is currently enabled
// at at and has at least one RotatorSlot.
func (s *Store) CurrentlyEnabledStopSets(ctx context.Context, at time.Time) ([]StopSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ss.id, ss.name, ss.enabled, ss.begin, ss.end, ss.weight
		FROM stopsets ss
		JOIN stopset_rotators sr ON sr.stopset_id = ss.id
		WHERE ss.enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("catalog: currently enabled stopsets: %w", err)
	}
	defer rows.Close()

	var stopsets []StopSet
	for rows.Next() {
		var ss StopSet
		var enabled int
		var begin, end sql.NullInt64
		if err := rows.Scan(&ss.ID, &ss.Name, &enabled, &begin, &end, &ss.Weight); err != nil {
			return nil, fmt.Errorf("catalog: scan stopset: %w", err)
		}
		ss.Eligibility = EligibilityWindow{Enabled: enabled != 0, Begin: timePtr(begin), End: timePtr(end)}
		if ss.Eligibility.CurrentlyEnabled(at) {
			stopsets = append(stopsets, ss)
		}
	}
	return stopsets, rows.Err()
}

// OrderedSlots returns a StopSet's RotatorSlots in stable slot order.
func (s *Store) OrderedSlots(ctx context.Context, stopSetID int64) ([]RotatorSlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stopset_id, rotator_id, position FROM stopset_rotators
		WHERE stopset_id = ? ORDER BY position`, stopSetID)
	if err != nil {
		return nil, fmt.Errorf("catalog: ordered slots: %w", err)
	}
	defer rows.Close()

	var slots []RotatorSlot
	for rows.Next() {
		var slot RotatorSlot
		if err := rows.Scan(&slot.ID, &slot.StopSetID, &slot.RotatorID, &slot.Position); err != nil {
			return nil, fmt.Errorf("catalog: scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// GetConfig loads the recognized config keys, falling back to documented
// defaults for anything missing or unrecognized (§6).
func (s *Store) GetConfig(ctx context.Context) (Config, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return Config{}, fmt.Errorf("catalog: get config: %w", err)
	}
	defer rows.Close()

	cfg := DefaultConfig()
	raw := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Config{}, fmt.Errorf("catalog: scan config: %w", err)
		}
		raw[k] = v
	}
	if err := rows.Err(); err != nil {
		return Config{}, err
	}

	NormalizeConfig(&cfg, raw)
	return cfg, nil
}
