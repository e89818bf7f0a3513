package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.TickRejections.Inc()
	prom.Metrics.PostOnlyRejections.Inc()
	prom.Metrics.SuppressionsEngaged.Inc()
	prom.Metrics.InventoryBlocks.Inc()
	prom.Metrics.RiskBlocks.Inc()
	prom.Metrics.CancelsThrottled.Inc()

	counters := []Counter{
		prom.Metrics.OrdersPlaced,
		prom.Metrics.OrdersFailed,
		prom.Metrics.TickRejections,
		prom.Metrics.PostOnlyRejections,
		prom.Metrics.SuppressionsEngaged,
		prom.Metrics.InventoryBlocks,
		prom.Metrics.RiskBlocks,
		prom.Metrics.CancelsThrottled,
	}
	for i, c := range counters {
		pc, ok := c.(promCounter)
		if !ok {
			t.Fatalf("counter %d is not prometheus backed", i)
		}
		if got := testutil.ToFloat64(pc.counter); got != 1 {
			t.Fatalf("counter %d: expected 1, got %v", i, got)
		}
	}
}

func TestPrometheusHandlerServesRegistry(t *testing.T) {
	prom := NewPrometheus()
	if prom.Handler() == nil {
		t.Fatal("expected metrics handler")
	}
}

func TestNoopCountersAreSafe(t *testing.T) {
	m := NewNoop()
	m.OrdersPlaced.Inc()
	m.CancelsThrottled.Inc()
}
