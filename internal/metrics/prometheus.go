package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_mm_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		OrdersPlaced:        promCounter{newCounter("orders_placed_total", "Total number of orders accepted by the exchange.")},
		OrdersFailed:        promCounter{newCounter("orders_failed_total", "Total number of orders abandoned after exhausting retries.")},
		TickRejections:      promCounter{newCounter("tick_rejections_total", "Total number of tick-size rejections.")},
		PostOnlyRejections:  promCounter{newCounter("post_only_rejections_total", "Total number of post-only would-cross rejections.")},
		SuppressionsEngaged: promCounter{newCounter("suppressions_engaged_total", "Total number of auto-suppression cooldowns engaged.")},
		InventoryBlocks:     promCounter{newCounter("inventory_blocks_total", "Total number of orders blocked by the inventory guard.")},
		RiskBlocks:          promCounter{newCounter("risk_blocks_total", "Total number of orders blocked by the risk gate.")},
		CancelsThrottled:    promCounter{newCounter("cancels_throttled_total", "Total number of cancels dropped by the cancel throttle.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
