package market

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// parseInstrumentSpecs maps a metaAndAssetCtxs payload into per-symbol
// specs. The universe entries carry szDecimals and maxLeverage; the trading
// grid follows from szDecimals (lot 10^-szDecimals, price decimals capped at
// 6-szDecimals).
func parseInstrumentSpecs(payload any) (map[string]InstrumentSpec, error) {
	universe, _ := extractUniverseAndCtxs(payload, "assetCtxs")
	if len(universe) == 0 {
		return nil, errors.New("metaAndAssetCtxs missing universe")
	}
	result := make(map[string]InstrumentSpec)
	for i, entry := range universe {
		meta, ok := toMap(entry)
		if !ok {
			continue
		}
		name := stringFromMap(meta, "name", "coin", "symbol")
		if name == "" {
			continue
		}
		szDecimals := intFromAny(meta["szDecimals"], 0)
		pxDecimals := perpMaxDecimals - szDecimals
		if pxDecimals < 0 {
			pxDecimals = 0
		}
		result[name] = InstrumentSpec{
			Symbol:      name,
			AssetID:     intFromAny(meta["index"], i),
			TickSize:    math.Pow10(-pxDecimals),
			LotSize:     math.Pow10(-szDecimals),
			MinNotional: defaultMinNotional,
			MaxLeverage: floatFromMap(meta, "maxLeverage"),
			SzDecimals:  szDecimals,
		}
	}
	if len(result) == 0 {
		return nil, errors.New("no instrument specs parsed")
	}
	return result, nil
}

func parseCandle(payload map[string]any) (string, float64, bool) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return "", 0, false
	}
	asset := stringFromAny(data["coin"])
	if asset == "" {
		asset = stringFromAny(data["symbol"])
	}
	if asset == "" {
		asset = stringFromAny(data["asset"])
	}
	candle := data
	if nested, ok := data["candle"].(map[string]any); ok {
		candle = nested
	}
	close := floatFromMap(candle, "c", "close", "cls", "price")
	if asset == "" || close == 0 {
		return "", 0, false
	}
	return asset, close, true
}

func extractUniverseAndCtxs(payload any, ctxKey string) ([]any, []any) {
	if arr, ok := toSlice(payload); ok && len(arr) >= 2 {
		metaMap, _ := toMap(arr[0])
		if metaMap != nil {
			if universe, ok := toSlice(metaMap["universe"]); ok {
				ctxs, _ := toSlice(arr[1])
				return universe, ctxs
			}
		}
		if universe, ok := toSlice(arr[0]); ok {
			ctxs, _ := toSlice(arr[1])
			return universe, ctxs
		}
	}
	if metaMap, ok := toMap(payload); ok {
		universe, _ := toSlice(metaMap["universe"])
		ctxs, _ := toSlice(metaMap[ctxKey])
		if len(ctxs) == 0 {
			ctxs, _ = toSlice(metaMap["assetCtxs"])
		}
		return universe, ctxs
	}
	return nil, nil
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func floatFromMap(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := floatFromAny(v); ok {
				return f
			}
		}
	}
	return 0
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intFromAny(v any, fallback int) int {
	if f, ok := floatFromAny(v); ok {
		return int(f)
	}
	return fallback
}
