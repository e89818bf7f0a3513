package state

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	CloidCounterKey   = "engine:cloid_counter"
	engineSnapshotKey = "engine:snapshot:"
)

// EngineSnapshot is the per-symbol submission state worth surviving a
// restart: suppression cooldowns keep misbehaving symbols quiet across a
// bounce, and the counters keep audit continuity.
type EngineSnapshot struct {
	Symbol              string  `json:"symbol"`
	SuppressedBuyUntil  int64   `json:"suppressed_buy_until_ms"`
	SuppressedSellUntil int64   `json:"suppressed_sell_until_ms"`
	Discrepancies       int     `json:"discrepancies"`
	DailyNotionalUSD    float64 `json:"daily_notional_usd"`
	UpdatedAtMS         int64   `json:"updated_at_ms"`
}

func EngineSnapshotKey(symbol string) string {
	return engineSnapshotKey + symbol
}

func LoadEngineSnapshot(ctx context.Context, store Store, symbol string) (EngineSnapshot, bool, error) {
	if store == nil {
		return EngineSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, EngineSnapshotKey(symbol))
	if err != nil {
		return EngineSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return EngineSnapshot{}, false, nil
	}
	var snapshot EngineSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return EngineSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveEngineSnapshot(ctx context.Context, store Store, snapshot EngineSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, EngineSnapshotKey(snapshot.Symbol), string(payload))
}

// LoadCloidCounter returns the last persisted cloid counter, zero when none.
func LoadCloidCounter(ctx context.Context, store Store) (int64, error) {
	if store == nil {
		return 0, nil
	}
	raw, ok, err := store.Get(ctx, CloidCounterKey)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func SaveCloidCounter(ctx context.Context, store Store, n int64) error {
	if store == nil {
		return nil
	}
	return store.Set(ctx, CloidCounterKey, strconv.FormatInt(n, 10))
}
