package audit

import (
	"context"
	"testing"
	"time"

	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/submit"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.AuditConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil writer when disabled")
	}
	w.Start(context.Background())
	w.Record(submit.HistoryEntry{})
	w.EnqueueTelemetry(TelemetrySample{})
	if err := w.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestNewEnabledRequiresDSN(t *testing.T) {
	if _, err := New(config.AuditConfig{Enabled: true}, nil); err == nil {
		t.Fatal("expected error for missing dsn")
	}
}

func TestSampleFromSnapshot(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := submit.TelemetrySnapshot{
		Symbol: "SOL",
		Buy: submit.SideTelemetry{
			Samples:         12,
			WindowTickErrs:  3,
			SuppressedUntil: now.Add(30 * time.Second),
		},
		Sell: submit.SideTelemetry{
			Samples:         8,
			SuppressedUntil: now.Add(-time.Second),
		},
		Discrepancies: 1,
		DailyNotional: 420.5,
	}
	sample := SampleFromSnapshot(now, snap)
	if sample.Symbol != "SOL" || sample.BuySamples != 12 || sample.BuyTickErrors != 3 {
		t.Fatalf("unexpected sample: %+v", sample)
	}
	if !sample.BuySuppressed {
		t.Fatal("buy side should read suppressed")
	}
	if sample.SellSuppressed {
		t.Fatal("sell side should not read suppressed")
	}
	if sample.Discrepancies != 1 || sample.DailyNotionalUSD != 420.5 {
		t.Fatalf("unexpected sample: %+v", sample)
	}
}
