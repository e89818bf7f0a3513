package app

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"hl-mm-bot/internal/audit"
	"hl-mm-bot/internal/config"
	"hl-mm-bot/internal/grid"
	"hl-mm-bot/internal/hl/exchange"
	"hl-mm-bot/internal/inventory"
	"hl-mm-bot/internal/quant"
	"hl-mm-bot/internal/risk"
	"hl-mm-bot/internal/sizing"
	"hl-mm-bot/internal/state"
	"hl-mm-bot/internal/submit"

	"go.uber.org/zap"
)

const (
	// volSpreadScale converts candle-close volatility into a grid spread
	// multiplier, capped at maxSpreadMult.
	volSpreadScale = 10.0
	maxSpreadMult  = 3.0
	// flattenSlippage is how far past mid the emergency IOC limit reaches.
	flattenSlippage = 0.005
)

// worker owns one symbol's quote loop. Everything mutable (open orders, the
// inventory book, the reprice anchor) is confined to its goroutine.
type worker struct {
	app    *App
	symbol string
	cfg    config.SymbolConfig
	policy sizing.Policy
	limits inventory.Limits
	book   inventory.Book
	grid   *grid.Generator
	sub    *submit.Submitter
	log    *zap.Logger

	open    []openOrder
	lastMid float64
}

type openOrder struct {
	orderID string
	side    quant.Side
}

func (w *worker) run(ctx context.Context) {
	w.restore(ctx)
	ticker := time.NewTicker(w.app.cfg.Engine.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cycle(ctx); err != nil {
				w.log.Warn("quote cycle failed", zap.Error(err))
			}
		}
	}
}

func (w *worker) restore(ctx context.Context) {
	snap, ok, err := state.LoadEngineSnapshot(ctx, w.app.store, w.symbol)
	if err != nil {
		w.log.Warn("engine snapshot load failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	w.sub.Restore(
		time.UnixMilli(snap.UpdatedAtMS),
		time.UnixMilli(snap.SuppressedBuyUntil),
		time.UnixMilli(snap.SuppressedSellUntil),
		snap.Discrepancies,
		snap.DailyNotionalUSD,
	)
}

func (w *worker) cycle(ctx context.Context) error {
	acct, ok := w.app.accounts.Snapshot()
	if !ok {
		return errors.New("no account snapshot yet")
	}
	mid, err := w.app.market.Mid(ctx, w.symbol)
	if err != nil {
		return err
	}
	pos := acct.Positions[w.symbol]
	w.book.SetPosition(pos)

	health := w.app.risk.CheckHealth(acct.Equity, math.Abs(pos)*mid, mid)
	switch health.Action {
	case risk.Halt:
		w.app.metrics.RiskBlocks.Inc()
		w.cancelAll(ctx)
		w.finishCycle(ctx)
		return nil
	case risk.EmergencyLiquidate:
		w.app.metrics.RiskBlocks.Inc()
		w.cancelAll(ctx)
		err := w.flatten(ctx, mid, pos)
		w.finishCycle(ctx)
		return err
	}

	allowBuy, allowSell := true, true
	if health.Action == risk.ReduceOnly {
		w.app.metrics.RiskBlocks.Inc()
		allowBuy, allowSell = pos < 0, pos > 0
	}

	quotes := w.grid.Quotes(grid.Request{
		Mid:        mid,
		CapitalUSD: w.cfg.CapitalUSD,
		Skew:       w.skew(pos, mid),
		SpreadMult: w.spreadMult(),
		AllowBuy:   allowBuy,
		AllowSell:  allowSell,
	})
	plan := w.plan(ctx, rebucketQuotes(w.policy, quotes))

	if len(w.open) > 0 {
		if !w.grid.ShouldReprice(w.lastMid, mid) {
			w.finishCycle(ctx)
			return nil
		}
		if w.tryModify(ctx, plan) {
			w.lastMid = mid
			w.finishCycle(ctx)
			return nil
		}
		w.cancelAll(ctx)
		if len(w.open) > 0 {
			// cancels were throttled; retry next cycle instead of
			// stacking fresh quotes on stale ones
			w.finishCycle(ctx)
			return nil
		}
	}

	w.submitPlan(ctx, plan)
	w.lastMid = mid
	w.finishCycle(ctx)
	return nil
}

// plannedQuote is one quote after quantization, normalization and the
// inventory guard, ready for either a fresh submit or an in-place modify.
type plannedQuote struct {
	side       quant.Side
	price      float64
	px         quant.Price
	size       quant.Size
	reduceOnly bool
}

func (w *worker) plan(ctx context.Context, quotes []grid.Quote) []plannedQuote {
	if len(quotes) == 0 {
		return nil
	}
	qc, err := w.app.market.Context(ctx, w.symbol)
	if err != nil {
		w.log.Warn("no quantization context", zap.Error(err))
		return nil
	}
	out := make([]plannedQuote, 0, len(quotes))
	for _, q := range quotes {
		px, err := qc.QuantizePrice(q.Price, q.Side, true)
		if err != nil || px.Val <= 0 {
			continue
		}
		norm, err := sizing.Normalize(qc, w.policy, px, q.NotionalUSD/px.Val)
		if err != nil {
			if !errors.Is(err, sizing.ErrBelowFloor) {
				w.log.Warn("size normalization failed", zap.Error(err))
			}
			continue
		}
		dec := inventory.Evaluate(&w.book, w.limits, q.Side, norm.Size.Val, px.Val)
		if !dec.Allow {
			w.app.metrics.InventoryBlocks.Inc()
			w.log.Debug("inventory guard blocked quote",
				zap.String("side", q.Side.String()),
				zap.String("reason", dec.Reason.String()),
				zap.Float64("projected", dec.Projected))
			continue
		}
		out = append(out, plannedQuote{
			side:       q.Side,
			price:      q.Price,
			px:         px,
			size:       norm.Size,
			reduceOnly: q.ReduceOnly || dec.ForceReduceOnly,
		})
	}
	return out
}

func (w *worker) submitPlan(ctx context.Context, plan []plannedQuote) {
	for _, p := range plan {
		out := w.sub.Submit(ctx, submit.Request{
			Side:       p.side,
			Price:      p.price,
			SizeCoins:  p.size.Val,
			PostOnly:   true,
			ReduceOnly: p.reduceOnly,
		})
		if out.Status == submit.StatusPlaced && out.OrderID != "" {
			w.open = append(w.open, openOrder{orderID: out.OrderID, side: p.side})
		}
	}
}

// tryModify reprices the resting ladder in place with one batch modify. It
// only applies when the new plan maps one-to-one onto the resting orders
// side by side; any shape change falls back to cancel/replace.
func (w *worker) tryModify(ctx context.Context, plan []plannedQuote) bool {
	if len(plan) == 0 || len(plan) != len(w.open) {
		return false
	}
	for i, p := range plan {
		if p.side != w.open[i].side {
			return false
		}
	}
	asset, ok := w.app.market.AssetID(w.symbol)
	if !ok {
		return false
	}
	mods := make([]exchange.ModifyWire, 0, len(plan))
	for i, p := range plan {
		oid, err := strconv.ParseInt(w.open[i].orderID, 10, 64)
		if err != nil {
			return false
		}
		wire, err := exchange.NewLimitOrder(asset, p.side == quant.Buy, p.px.Str, p.size.Str, p.reduceOnly, exchange.TifAlo, w.app.cloids.Next())
		if err != nil {
			return false
		}
		mods = append(mods, exchange.ModifyWire{OrderID: oid, Order: wire})
	}
	if _, near := w.app.weights.Add(1); near {
		w.app.maybeReserveWeight(ctx)
	}
	statuses, err := w.app.exchange.ModifyOrders(ctx, mods)
	if err != nil || len(statuses) != len(mods) {
		w.log.Warn("batch modify failed, falling back to cancel/replace", zap.Error(err))
		return false
	}
	now := time.Now()
	for i, st := range statuses {
		if st.Error != "" {
			w.log.Warn("batch modify partially rejected, falling back",
				zap.Int("index", i),
				zap.String("error", st.Error))
			return false
		}
		if st.OrderID != "" {
			w.open[i].orderID = st.OrderID
		}
		w.app.recorder.Record(submit.HistoryEntry{
			Cloid:   mods[i].Order.Cloid,
			OrderID: w.open[i].orderID,
			Symbol:  w.symbol,
			Side:    plan[i].side,
			Price:   plan[i].px.Str,
			Size:    plan[i].size.Str,
			Status:  submit.HistoryModified,
			Time:    now,
		})
	}
	return true
}

// cancelAll pulls every resting order. Orders whose cancel is throttled stay
// on the book for the next cycle; orders whose cancel errors are dropped from
// tracking since the usual cause is a fill racing the cancel.
func (w *worker) cancelAll(ctx context.Context) {
	kept := w.open[:0]
	for _, o := range w.open {
		if !w.app.cancels.Allow(w.symbol) {
			w.app.metrics.CancelsThrottled.Inc()
			kept = append(kept, o)
			continue
		}
		if err := w.sub.Cancel(ctx, o.orderID); err != nil {
			w.log.Warn("cancel failed", zap.String("order_id", o.orderID), zap.Error(err))
		}
	}
	w.open = kept
}

// flatten fires one IOC reduce-only order for the whole position at an
// aggressive limit so the risk latch unwinds without chasing the book.
func (w *worker) flatten(ctx context.Context, mid, pos float64) error {
	if math.Abs(pos)*mid < w.policy.MinUSD {
		return nil
	}
	side := quant.Sell
	price := mid * (1 - flattenSlippage)
	if pos < 0 {
		side = quant.Buy
		price = mid * (1 + flattenSlippage)
	}
	out := w.sub.Submit(ctx, submit.Request{
		Side:       side,
		Price:      price,
		SizeCoins:  math.Abs(pos),
		IOC:        true,
		ReduceOnly: true,
	})
	if out.Err != nil {
		return out.Err
	}
	w.log.Warn("emergency flatten submitted",
		zap.Float64("position", pos),
		zap.Float64("limit", price))
	return nil
}

func (w *worker) skew(pos, mid float64) float64 {
	capCoins := w.cfg.Inventory.MaxPositionCoins
	if capCoins <= 0 && w.cfg.Inventory.MaxPositionUSD > 0 && mid > 0 {
		capCoins = w.cfg.Inventory.MaxPositionUSD / mid
	}
	if capCoins <= 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, pos/capCoins))
}

func (w *worker) spreadMult() float64 {
	vol, ok := w.app.market.Volatility(w.symbol)
	if !ok || vol <= 0 {
		return 1
	}
	return math.Min(1+vol*volSpreadScale, maxSpreadMult)
}

func (w *worker) finishCycle(ctx context.Context) {
	now := time.Now()
	snap := w.sub.Snapshot()
	w.app.audit.EnqueueTelemetry(audit.SampleFromSnapshot(now, snap))
	err := state.SaveEngineSnapshot(ctx, w.app.store, state.EngineSnapshot{
		Symbol:              w.symbol,
		SuppressedBuyUntil:  unixMilliOrZero(snap.Buy.SuppressedUntil),
		SuppressedSellUntil: unixMilliOrZero(snap.Sell.SuppressedUntil),
		Discrepancies:       snap.Discrepancies,
		DailyNotionalUSD:    snap.DailyNotional,
		UpdatedAtMS:         now.UnixMilli(),
	})
	if err != nil {
		w.log.Warn("engine snapshot save failed", zap.Error(err))
	}
}

// rebucketQuotes folds dust children into their neighbors per side, keeping
// each side's price ladder while redistributing the notionals.
func rebucketQuotes(pol sizing.Policy, quotes []grid.Quote) []grid.Quote {
	out := make([]grid.Quote, 0, len(quotes))
	for _, side := range []quant.Side{quant.Buy, quant.Sell} {
		var sideQuotes []grid.Quote
		var notionals []float64
		for _, q := range quotes {
			if q.Side == side {
				sideQuotes = append(sideQuotes, q)
				notionals = append(notionals, q.NotionalUSD)
			}
		}
		for i, n := range sizing.Rebucket(pol, notionals) {
			if i >= len(sideQuotes) {
				break
			}
			q := sideQuotes[i]
			q.NotionalUSD = n
			out = append(out, q)
		}
	}
	return out
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
