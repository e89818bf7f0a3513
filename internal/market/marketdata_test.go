package market

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestOverrideOnlyCatalog(t *testing.T) {
	m := New(nil, nil, zap.NewNop())
	m.SetOverride(InstrumentSpec{
		Symbol:   "SOL",
		AssetID:  5,
		TickSize: 0.0001,
		LotSize:  0.01,
	})

	qc, err := m.Refresh(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if qc.PriceDecimals != 4 || qc.SizeDecimals != 2 {
		t.Fatalf("context decimals: %d/%d", qc.PriceDecimals, qc.SizeDecimals)
	}

	spec, err := m.Spec(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	if spec.MinNotional != defaultMinNotional {
		t.Fatalf("min notional default not applied: %v", spec.MinNotional)
	}
	if id, ok := m.AssetID("SOL"); !ok || id != 5 {
		t.Fatalf("asset id: %d, %v", id, ok)
	}

	if _, err := m.Context(context.Background(), "ETH"); err == nil {
		t.Fatal("unknown symbol should error")
	}
}

func TestUpdateMidsFlatPayload(t *testing.T) {
	m := New(nil, nil, zap.NewNop())
	m.updateMids(map[string]any{"SOL": "151.25", "ETH": 3000.5})

	mid, err := m.Mid(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("mid: %v", err)
	}
	if !closeEnough(mid, 151.25) {
		t.Fatalf("mid = %v", mid)
	}
	if _, err := m.Mid(context.Background(), "BTC"); err == nil {
		t.Fatal("missing mid with no REST fallback should error")
	}
}

func TestUpdateMidsWsPayload(t *testing.T) {
	m := New(nil, nil, zap.NewNop())
	m.updateMids(map[string]any{
		"channel": "allMids",
		"data":    map[string]any{"mids": map[string]any{"SOL": "150.5"}},
	})
	mid, err := m.Mid(context.Background(), "SOL")
	if err != nil {
		t.Fatalf("mid: %v", err)
	}
	if !closeEnough(mid, 150.5) {
		t.Fatalf("mid = %v", mid)
	}
}
