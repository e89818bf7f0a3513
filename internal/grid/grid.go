package grid

import (
	"fmt"
	"math"

	"hl-mm-bot/internal/quant"
)

// Layer is one price band of the quote ladder. ParkOnly layers sit far from
// mid and are only activated once inventory skew is large enough that the
// engine wants passive exits waiting.
type Layer struct {
	OffsetBps     float64
	CapitalShare  float64
	OrdersPerSide int
	ParkOnly      bool
}

// DefaultLayers is the stock five-band ladder.
func DefaultLayers() []Layer {
	return []Layer{
		{OffsetBps: 20, CapitalShare: 0.25, OrdersPerSide: 2},
		{OffsetBps: 30, CapitalShare: 0.30, OrdersPerSide: 2},
		{OffsetBps: 45, CapitalShare: 0.25, OrdersPerSide: 2},
		{OffsetBps: 65, CapitalShare: 0.15, OrdersPerSide: 1, ParkOnly: true},
		{OffsetBps: 90, CapitalShare: 0.05, OrdersPerSide: 1, ParkOnly: true},
	}
}

type Config struct {
	Layers []Layer
	// StaggerBps separates same-layer siblings so no two quotes collapse
	// onto one tick after quantization.
	StaggerBps float64
	// SkewStepBps is added per SkewStepRatio of inventory skew: quotes on
	// the heavy side move away from mid, the light side moves closer.
	SkewStepBps   float64
	SkewStepRatio float64
	// ParkActivation is the |skew| beyond which ParkOnly layers wake up.
	ParkActivation float64
	// RepriceDriftBps is the drift that triggers a cancel/replace cycle.
	RepriceDriftBps float64
}

func (c Config) withDefaults() Config {
	if len(c.Layers) == 0 {
		c.Layers = DefaultLayers()
	}
	if c.StaggerBps == 0 {
		c.StaggerBps = 2
	}
	if c.SkewStepBps == 0 {
		c.SkewStepBps = 10
	}
	if c.SkewStepRatio == 0 {
		c.SkewStepRatio = 0.15
	}
	if c.ParkActivation == 0 {
		c.ParkActivation = 0.20
	}
	if c.RepriceDriftBps == 0 {
		c.RepriceDriftBps = 6
	}
	return c
}

func (c Config) Validate() error {
	var share float64
	for i, l := range c.Layers {
		if l.OffsetBps <= 0 || l.CapitalShare < 0 || l.OrdersPerSide < 0 {
			return fmt.Errorf("layer %d malformed: %+v", i, l)
		}
		share += l.CapitalShare
	}
	if len(c.Layers) > 0 && share > 1+1e-9 {
		return fmt.Errorf("layer capital shares sum to %.3f > 1", share)
	}
	return nil
}

// Quote is one proposed order, pre-quantization.
type Quote struct {
	Side        quant.Side
	Price       float64
	NotionalUSD float64
	ReduceOnly  bool
	Layer       int
}

// Request is one refresh cycle's input. Skew is the signed inventory ratio
// in [-1, 1] (positive = long). AllowBuy/AllowSell gate exposure-increasing
// quotes per side; a disallowed side is omitted entirely while the opposite
// side is emitted reduce-only.
type Request struct {
	Mid        float64
	CapitalUSD float64
	Skew       float64
	SpreadMult float64
	AllowBuy   bool
	AllowSell  bool
}

type Generator struct {
	cfg Config
}

func New(cfg Config) (*Generator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg}, nil
}

// Quotes produces the ladder for one cycle.
func (g *Generator) Quotes(req Request) []Quote {
	if req.Mid <= 0 || req.CapitalUSD <= 0 {
		return nil
	}
	if !req.AllowBuy && !req.AllowSell {
		return nil
	}
	mult := req.SpreadMult
	if mult <= 0 {
		mult = 1
	}

	skewSteps := math.Floor(math.Abs(req.Skew) / g.cfg.SkewStepRatio)
	skewAdj := skewSteps * g.cfg.SkewStepBps
	// Long inventory pushes bids out and pulls asks in; short is the mirror.
	bidAdj, askAdj := skewAdj, -skewAdj
	if req.Skew < 0 {
		bidAdj, askAdj = -skewAdj, skewAdj
	}
	parked := math.Abs(req.Skew) > g.cfg.ParkActivation

	var quotes []Quote
	for li, layer := range g.cfg.Layers {
		if layer.ParkOnly && !parked {
			continue
		}
		if layer.OrdersPerSide == 0 || layer.CapitalShare == 0 {
			continue
		}
		perOrder := layer.CapitalShare * req.CapitalUSD / float64(layer.OrdersPerSide)
		for i := 0; i < layer.OrdersPerSide; i++ {
			stagger := float64(i) * g.cfg.StaggerBps
			if req.AllowBuy {
				off := clampOffset((layer.OffsetBps+bidAdj)*mult + stagger)
				quotes = append(quotes, Quote{
					Side:        quant.Buy,
					Price:       req.Mid * (1 - off/10000),
					NotionalUSD: perOrder,
					ReduceOnly:  !req.AllowSell,
					Layer:       li,
				})
			}
			if req.AllowSell {
				off := clampOffset((layer.OffsetBps+askAdj)*mult + stagger)
				quotes = append(quotes, Quote{
					Side:        quant.Sell,
					Price:       req.Mid * (1 + off/10000),
					NotionalUSD: perOrder,
					ReduceOnly:  !req.AllowBuy,
					Layer:       li,
				})
			}
		}
	}
	return quotes
}

// ShouldReprice reports whether price drift since the last quote crosses the
// reprice threshold.
func (g *Generator) ShouldReprice(lastPx, newPx float64) bool {
	if lastPx <= 0 {
		return true
	}
	driftBps := math.Abs(newPx-lastPx) / lastPx * 10000
	return driftBps >= g.cfg.RepriceDriftBps
}

// RepriceDriftBps exposes the configured threshold for deadzone checks.
func (g *Generator) RepriceDriftBps() float64 { return g.cfg.RepriceDriftBps }

// clampOffset keeps every quote at least one basis point off the mid so a
// heavily skew-tightened ask can never cross.
func clampOffset(bps float64) float64 {
	if bps < 1 {
		return 1
	}
	return bps
}
