package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"hl-mm-bot/internal/hl/rest"
	"hl-mm-bot/internal/hl/ws"
	"hl-mm-bot/internal/quant"

	"go.uber.org/zap"
)

// perpMaxDecimals is the exchange-wide bound on perp price decimals: a
// symbol with szDecimals size precision accepts at most 6-szDecimals price
// decimals.
const perpMaxDecimals = 6

const (
	defaultSpecTTL     = 5 * time.Minute
	defaultMinNotional = 10
)

// InstrumentSpec is the per-symbol trading grid. Specs come from the
// exchange meta endpoint and may be overridden per symbol from config for
// instruments whose advertised grid is known to be wrong.
type InstrumentSpec struct {
	Symbol      string
	AssetID     int
	TickSize    float64
	LotSize     float64
	MinNotional float64
	MaxLeverage float64
	SzDecimals  int
}

func (s InstrumentSpec) Validate() error {
	if s.TickSize <= 0 || s.LotSize <= 0 {
		return fmt.Errorf("%s: tick/lot must be positive: %+v", s.Symbol, s)
	}
	return nil
}

type MarketData struct {
	rest *rest.Client
	ws   *ws.Client
	log  *zap.Logger

	specTTL   time.Duration
	overrides map[string]InstrumentSpec

	mu              sync.RWMutex
	midPrices       map[string]float64
	volatility      map[string]float64
	candleCloses    map[string][]float64
	specs           map[string]InstrumentSpec
	qctx            map[string]quant.Context
	lastSpecRefresh time.Time

	candleAssets   []string
	candleInterval string
	candleWindow   int
}

func New(restClient *rest.Client, wsClient *ws.Client, log *zap.Logger) *MarketData {
	return &MarketData{
		rest:           restClient,
		ws:             wsClient,
		log:            log,
		specTTL:        defaultSpecTTL,
		overrides:      make(map[string]InstrumentSpec),
		midPrices:      make(map[string]float64),
		volatility:     make(map[string]float64),
		candleCloses:   make(map[string][]float64),
		specs:          make(map[string]InstrumentSpec),
		qctx:           make(map[string]quant.Context),
		candleInterval: "1h",
		candleWindow:   20,
	}
}

// SetSpecTTL overrides the default 5 minute spec refresh window.
func (m *MarketData) SetSpecTTL(ttl time.Duration) {
	if ttl > 0 {
		m.specTTL = ttl
	}
}

// SetOverride pins an instrument spec from config; the exchange meta fills
// only what the override leaves zero.
func (m *MarketData) SetOverride(spec InstrumentSpec) {
	m.overrides[spec.Symbol] = spec
}

func (m *MarketData) EnableCandles(assets []string, interval string, window int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candleAssets = assets
	if interval != "" {
		m.candleInterval = interval
	}
	if window > 0 {
		m.candleWindow = window
	}
}

func (m *MarketData) Start(ctx context.Context) error {
	if err := m.refreshSpecs(ctx, true); err != nil {
		m.log.Warn("initial spec refresh failed", zap.Error(err))
	}
	if m.ws == nil {
		return nil
	}
	sub := map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}}
	if err := m.ws.Connect(ctx); err != nil {
		return err
	}
	if err := m.ws.Subscribe(ctx, sub); err != nil {
		return err
	}
	m.subscribeCandles(ctx)
	go func() {
		_ = m.ws.Run(ctx, m.handleMessage)
	}()
	return nil
}

func (m *MarketData) subscribeCandles(ctx context.Context) {
	m.mu.RLock()
	assets := m.candleAssets
	interval := m.candleInterval
	m.mu.RUnlock()
	for _, asset := range assets {
		sub := map[string]any{
			"method": "subscribe",
			"subscription": map[string]any{
				"type":     "candle",
				"coin":     asset,
				"interval": interval,
			},
		}
		if err := m.ws.Subscribe(ctx, sub); err != nil {
			m.log.Warn("candle subscribe failed", zap.String("asset", asset), zap.Error(err))
		}
	}
}

// Spec returns the instrument spec, refreshing from the exchange when the
// TTL has lapsed.
func (m *MarketData) Spec(ctx context.Context, symbol string) (InstrumentSpec, error) {
	if m.specStale() {
		if err := m.refreshSpecs(ctx, false); err != nil {
			m.log.Warn("spec refresh failed, serving cached", zap.Error(err))
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.specs[symbol]
	if !ok {
		return InstrumentSpec{}, fmt.Errorf("no instrument spec for %s", symbol)
	}
	return spec, nil
}

// Context returns the cached quantization context for the symbol, honoring
// the spec TTL.
func (m *MarketData) Context(ctx context.Context, symbol string) (quant.Context, error) {
	if _, err := m.Spec(ctx, symbol); err != nil {
		return quant.Context{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	qc, ok := m.qctx[symbol]
	if !ok {
		return quant.Context{}, fmt.Errorf("no quantization context for %s", symbol)
	}
	return qc, nil
}

// Refresh bypasses the TTL: used when the exchange rejects a price that the
// cached grid considered legal.
func (m *MarketData) Refresh(ctx context.Context, symbol string) (quant.Context, error) {
	if err := m.refreshSpecs(ctx, true); err != nil {
		return quant.Context{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	qc, ok := m.qctx[symbol]
	if !ok {
		return quant.Context{}, fmt.Errorf("no quantization context for %s", symbol)
	}
	return qc, nil
}

func (m *MarketData) AssetID(symbol string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.specs[symbol]
	if !ok {
		return 0, false
	}
	return spec.AssetID, true
}

func (m *MarketData) specStale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastSpecRefresh.IsZero() {
		return true
	}
	return time.Since(m.lastSpecRefresh) >= m.specTTL
}

func (m *MarketData) refreshSpecs(ctx context.Context, force bool) error {
	if m.rest == nil {
		return m.applyOverridesOnly()
	}
	if !force && !m.specStale() {
		return nil
	}
	resp, err := m.rest.InfoAny(ctx, rest.InfoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return err
	}
	parsed, err := parseInstrumentSpecs(resp)
	if err != nil {
		return err
	}

	specs := make(map[string]InstrumentSpec, len(parsed))
	qctxs := make(map[string]quant.Context, len(parsed))
	for symbol, spec := range parsed {
		spec = m.applyOverride(spec)
		if err := spec.Validate(); err != nil {
			m.log.Warn("skipping malformed instrument spec", zap.Error(err))
			continue
		}
		qc, err := quant.NewContext(spec.TickSize, spec.LotSize)
		if err != nil {
			m.log.Warn("skipping instrument with bad grid", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		specs[symbol] = spec
		qctxs[symbol] = qc
	}
	if len(specs) == 0 {
		return errors.New("no instrument specs parsed")
	}

	m.mu.Lock()
	m.specs = specs
	m.qctx = qctxs
	m.lastSpecRefresh = time.Now().UTC()
	m.mu.Unlock()
	return nil
}

// applyOverridesOnly serves configured specs when no REST client is wired
// (offline verification).
func (m *MarketData) applyOverridesOnly() error {
	specs := make(map[string]InstrumentSpec, len(m.overrides))
	qctxs := make(map[string]quant.Context, len(m.overrides))
	for symbol, spec := range m.overrides {
		if spec.MinNotional <= 0 {
			spec.MinNotional = defaultMinNotional
		}
		if err := spec.Validate(); err != nil {
			return err
		}
		qc, err := quant.NewContext(spec.TickSize, spec.LotSize)
		if err != nil {
			return err
		}
		specs[symbol] = spec
		qctxs[symbol] = qc
	}
	m.mu.Lock()
	m.specs = specs
	m.qctx = qctxs
	m.lastSpecRefresh = time.Now().UTC()
	m.mu.Unlock()
	return nil
}

func (m *MarketData) applyOverride(spec InstrumentSpec) InstrumentSpec {
	o, ok := m.overrides[spec.Symbol]
	if !ok {
		return spec
	}
	if o.TickSize > 0 {
		spec.TickSize = o.TickSize
	}
	if o.LotSize > 0 {
		spec.LotSize = o.LotSize
	}
	if o.MinNotional > 0 {
		spec.MinNotional = o.MinNotional
	}
	if o.MaxLeverage > 0 {
		spec.MaxLeverage = o.MaxLeverage
	}
	return spec
}

func (m *MarketData) Mid(ctx context.Context, asset string) (float64, error) {
	m.mu.RLock()
	price, ok := m.midPrices[asset]
	m.mu.RUnlock()
	if ok {
		return price, nil
	}
	if m.rest == nil {
		return 0, errors.New("mid price not found")
	}
	resp, err := m.rest.Info(ctx, rest.InfoRequest{Type: "allMids"})
	if err != nil {
		return 0, err
	}
	m.updateMids(resp)
	m.mu.RLock()
	price, ok = m.midPrices[asset]
	m.mu.RUnlock()
	if !ok {
		return 0, errors.New("mid price not found")
	}
	return price, nil
}

func (m *MarketData) Volatility(asset string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.volatility[asset]
	return val, ok
}

func (m *MarketData) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		m.log.Debug("ws decode error", zap.Error(err))
		return
	}
	m.updateMids(payload)
	m.updateCandle(payload)
}

func (m *MarketData) updateMids(payload map[string]any) {
	var mids map[string]any
	if data, ok := payload["data"].(map[string]any); ok {
		if raw, ok := data["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		if raw, ok := payload["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		// /info allMids returns a flat map of symbol -> mid.
		if _, hasData := payload["data"]; !hasData {
			mids = payload
		}
	}
	if mids == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for asset, v := range mids {
		if f, ok := floatFromAny(v); ok {
			m.midPrices[asset] = f
		}
	}
}

func (m *MarketData) updateCandle(payload map[string]any) {
	asset, close, ok := parseCandle(payload)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	closes := append(m.candleCloses[asset], close)
	if len(closes) > m.candleWindow {
		closes = closes[len(closes)-m.candleWindow:]
	}
	m.candleCloses[asset] = closes
	m.volatility[asset] = computeVolatility(closes)
}

func computeVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	var sum float64
	var sumSq float64
	var count float64
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		curr := closes[i]
		if prev == 0 {
			continue
		}
		r := (curr - prev) / prev
		sum += r
		sumSq += r * r
		count++
	}
	if count == 0 {
		return 0
	}
	mean := sum / count
	variance := sumSq/count - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
