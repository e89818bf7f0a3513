package grid

import (
	"math"
	"testing"

	"hl-mm-bot/internal/quant"
)

func newGen(t *testing.T, cfg Config) *Generator {
	t.Helper()
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestQuotesBothSides(t *testing.T) {
	g := newGen(t, Config{})
	quotes := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, AllowBuy: true, AllowSell: true})
	if len(quotes) == 0 {
		t.Fatal("no quotes emitted")
	}
	var buys, sells int
	for _, q := range quotes {
		if q.ReduceOnly {
			t.Fatalf("reduce-only set with both sides allowed: %+v", q)
		}
		switch q.Side {
		case quant.Buy:
			buys++
			if q.Price >= 100 {
				t.Fatalf("buy at or above mid: %.4f", q.Price)
			}
		case quant.Sell:
			sells++
			if q.Price <= 100 {
				t.Fatalf("sell at or below mid: %.4f", q.Price)
			}
		}
	}
	if buys != sells {
		t.Fatalf("unbalanced ladder: %d buys, %d sells", buys, sells)
	}
	// Flat skew keeps the parking layers asleep: 2+2+2 per side.
	if buys != 6 {
		t.Fatalf("got %d buys, want 6", buys)
	}
}

func TestQuotesStaggerKeepsSiblingsApart(t *testing.T) {
	g := newGen(t, Config{})
	quotes := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, AllowBuy: true, AllowSell: true})
	seen := map[string]bool{}
	qc, err := quant.NewContext(0.01, 1)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	for _, q := range quotes {
		p, err := qc.QuantizePrice(q.Price, q.Side, false)
		if err != nil {
			t.Fatalf("quantize %.4f: %v", q.Price, err)
		}
		key := q.Side.String() + ":" + p.Str
		if seen[key] {
			t.Fatalf("duplicate quantized price %s", key)
		}
		seen[key] = true
	}
}

func TestQuotesSkewMovesSides(t *testing.T) {
	g := newGen(t, Config{})
	flat := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, AllowBuy: true, AllowSell: true})
	long := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, Skew: 0.16, AllowBuy: true, AllowSell: true})

	bestBid := func(qs []Quote) float64 {
		best := 0.0
		for _, q := range qs {
			if q.Side == quant.Buy && q.Price > best {
				best = q.Price
			}
		}
		return best
	}
	bestAsk := func(qs []Quote) float64 {
		best := math.Inf(1)
		for _, q := range qs {
			if q.Side == quant.Sell && q.Price < best {
				best = q.Price
			}
		}
		return best
	}
	if bestBid(long) >= bestBid(flat) {
		t.Fatalf("long skew should push bids away: %.4f vs %.4f", bestBid(long), bestBid(flat))
	}
	if bestAsk(long) >= bestAsk(flat) {
		t.Fatalf("long skew should pull asks in: %.4f vs %.4f", bestAsk(long), bestAsk(flat))
	}
}

func TestQuotesParkingActivation(t *testing.T) {
	g := newGen(t, Config{})
	calm := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, Skew: 0.1, AllowBuy: true, AllowSell: true})
	heavy := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, Skew: 0.3, AllowBuy: true, AllowSell: true})
	if len(heavy) <= len(calm) {
		t.Fatalf("parking layers should add quotes: %d vs %d", len(heavy), len(calm))
	}
}

func TestQuotesOneSidedReduceOnly(t *testing.T) {
	g := newGen(t, Config{})
	quotes := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, Skew: 0.9, AllowBuy: false, AllowSell: true})
	if len(quotes) == 0 {
		t.Fatal("no quotes emitted")
	}
	for _, q := range quotes {
		if q.Side != quant.Sell {
			t.Fatalf("buy emitted while buys forbidden: %+v", q)
		}
		if !q.ReduceOnly {
			t.Fatalf("opposite side must be reduce-only: %+v", q)
		}
	}
}

func TestQuotesNoPermission(t *testing.T) {
	g := newGen(t, Config{})
	if qs := g.Quotes(Request{Mid: 100, CapitalUSD: 1000}); qs != nil {
		t.Fatalf("no-permission request emitted %d quotes", len(qs))
	}
}

func TestQuotesSpreadMultiplier(t *testing.T) {
	g := newGen(t, Config{})
	base := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, AllowBuy: true, AllowSell: true})
	wide := g.Quotes(Request{Mid: 100, CapitalUSD: 1000, SpreadMult: 2, AllowBuy: true, AllowSell: true})
	for i := range base {
		if base[i].Side != quant.Buy {
			continue
		}
		if wide[i].Price >= base[i].Price {
			t.Fatalf("wider spread should lower bids: %.4f vs %.4f", wide[i].Price, base[i].Price)
		}
	}
}

func TestShouldReprice(t *testing.T) {
	g := newGen(t, Config{RepriceDriftBps: 6})
	if g.ShouldReprice(100, 100.05) {
		t.Fatal("5 bps drift should not reprice")
	}
	if !g.ShouldReprice(100, 100.07) {
		t.Fatal("7 bps drift should reprice")
	}
	if !g.ShouldReprice(0, 100) {
		t.Fatal("no previous quote should always reprice")
	}
}

func TestConfigValidate(t *testing.T) {
	bad := Config{Layers: []Layer{{OffsetBps: 20, CapitalShare: 0.8, OrdersPerSide: 1}, {OffsetBps: 30, CapitalShare: 0.5, OrdersPerSide: 1}}}
	if _, err := New(bad); err == nil {
		t.Fatal("over-allocated shares accepted")
	}
}
