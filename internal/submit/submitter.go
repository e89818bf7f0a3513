package submit

import (
	"context"
	"fmt"
	"math"
	"time"

	"hl-mm-bot/internal/metrics"
	"hl-mm-bot/internal/quant"

	"go.uber.org/zap"
)

type Config struct {
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int
	// ShadeTicks is how far a post-only rejection moves the price away
	// from the touch before the next attempt.
	ShadeTicks int64
	// QuirkySymbols get the side-preferred one-tick search on tick
	// rejections instead of an immediate abandon.
	QuirkySymbols []string

	SuppressWindow     int
	SuppressMinSamples int
	SuppressThreshold  int
	SuppressCooldown   time.Duration

	DeadzoneBps float64
	// DailyNotionalCapUSD only warns when crossed; it never blocks.
	DailyNotionalCapUSD float64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.ShadeTicks <= 0 {
		c.ShadeTicks = 1
	}
	if c.SuppressWindow <= 0 {
		c.SuppressWindow = 30
	}
	if c.SuppressMinSamples <= 0 {
		c.SuppressMinSamples = 10
	}
	if c.SuppressThreshold <= 0 {
		c.SuppressThreshold = 3
	}
	if c.SuppressCooldown <= 0 {
		c.SuppressCooldown = time.Minute
	}
	if c.DeadzoneBps <= 0 {
		c.DeadzoneBps = 1
	}
	return c
}

// Submitter owns the retry/fallback ladder for one symbol. It is confined to
// that symbol's worker goroutine: telemetry, suppression timestamps and the
// deadzone anchor are plain fields, not shared state.
type Submitter struct {
	symbol string
	cfg    Config
	quirky bool
	placer Placer
	specs  SpecSource
	cloids *CloidGen
	rec    Recorder
	met    *metrics.Metrics
	log    *zap.Logger
	now    func() time.Time

	seq             int64
	tele            map[quant.Side]*teleWindow
	suppressedUntil map[quant.Side]time.Time
	lastQuoted      map[quant.Side]float64
	discrepancies   int
	dailyNotional   float64
	day             time.Time
	dailyCapWarned  bool
}

func New(symbol string, cfg Config, placer Placer, specs SpecSource, cloids *CloidGen, rec Recorder, met *metrics.Metrics, log *zap.Logger) *Submitter {
	cfg = cfg.withDefaults()
	quirky := false
	for _, s := range cfg.QuirkySymbols {
		if s == symbol {
			quirky = true
		}
	}
	if met == nil {
		met = metrics.NewNoop()
	}
	return &Submitter{
		symbol: symbol,
		cfg:    cfg,
		quirky: quirky,
		placer: placer,
		specs:  specs,
		cloids: cloids,
		rec:    rec,
		met:    met,
		log:    log.With(zap.String("symbol", symbol)),
		now:    time.Now,
		tele: map[quant.Side]*teleWindow{
			quant.Buy:  newTeleWindow(cfg.SuppressWindow),
			quant.Sell: newTeleWindow(cfg.SuppressWindow),
		},
		suppressedUntil: make(map[quant.Side]time.Time),
		lastQuoted:      make(map[quant.Side]float64),
	}
}

// Submit runs one order through the ladder to a terminal outcome. It never
// mutates inventory; the caller applies fills separately.
func (s *Submitter) Submit(ctx context.Context, req Request) Outcome {
	if until, ok := s.suppressedUntil[req.Side]; ok && s.now().Before(until) {
		return Outcome{Status: StatusSuppressed, Err: ErrSuppressed}
	}

	if last := s.lastQuoted[req.Side]; last > 0 {
		driftBps := math.Abs(req.Price-last) / last * 10000
		if driftBps < s.cfg.DeadzoneBps {
			return Outcome{Status: StatusSkipped}
		}
	}

	qc, err := s.specs.Context(ctx, s.symbol)
	if err != nil {
		return Outcome{Status: StatusAbandoned, Err: fmt.Errorf("instrument spec: %w", err)}
	}
	price, err := qc.QuantizePrice(req.Price, req.Side, req.PostOnly)
	if err != nil {
		return s.fatal(req, Outcome{}, fmt.Errorf("%w: %v", ErrInternalFormat, err))
	}
	size, err := qc.QuantizeSize(req.SizeCoins)
	if err != nil {
		return s.fatal(req, Outcome{}, fmt.Errorf("%w: %v", ErrInternalFormat, err))
	}
	if size.IsZero() {
		return Outcome{Status: StatusAbandoned, Err: ErrSizeBelowLot}
	}

	out := Outcome{
		Cloid: s.cloids.Next(),
		Seq:   s.nextSeq(),
		Price: price,
		Size:  size,
	}

	var (
		refreshed bool
		tickBase  quant.Price
		tickDirs  []int64
	)

	maxAttempts := s.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		out.Price = price
		out.Size = size

		if err := qc.ValidatePriceStr(price.Str); err != nil {
			return s.fatal(req, out, fmt.Errorf("%w: %v", ErrInternalFormat, err))
		}
		if err := qc.ValidateSizeStr(size.Str); err != nil {
			return s.fatal(req, out, fmt.Errorf("%w: %v", ErrInternalFormat, err))
		}

		res, err := s.placer.Place(ctx, WireOrder{
			Symbol:     s.symbol,
			Side:       req.Side,
			PriceStr:   price.Str,
			SizeStr:    size.Str,
			ReduceOnly: req.ReduceOnly,
			PostOnly:   req.PostOnly,
			IOC:        req.IOC,
			Cloid:      out.Cloid,
		})
		if err != nil {
			s.tele[req.Side].record(flagOther)
			if ctx.Err() != nil {
				return s.abandon(req, out, fmt.Errorf("%w: %v", ErrAbandoned, ctx.Err()))
			}
			if attempt == maxAttempts {
				return s.abandon(req, out, fmt.Errorf("%w: transport: %v", ErrAbandoned, err))
			}
			continue
		}

		switch res.Reject {
		case RejectNone:
			s.tele[req.Side].record(flagOK)
			s.lastQuoted[req.Side] = price.Val
			s.addDailyNotional(price.Val * size.Val)
			out.Status = StatusPlaced
			out.OrderID = res.OrderID
			s.record(req, out, HistoryPlaced)
			s.met.OrdersPlaced.Inc()
			s.log.Info("order placed",
				zap.String("side", req.Side.String()),
				zap.String("price", price.Str),
				zap.String("size", size.Str),
				zap.Int("attempts", attempt),
				zap.String("cloid", out.Cloid),
				zap.String("oid", res.OrderID))
			return out

		case RejectPostOnly:
			s.tele[req.Side].record(flagOther)
			s.met.PostOnlyRejections.Inc()
			shade := s.cfg.ShadeTicks
			if req.Side == quant.Buy {
				shade = -shade
			}
			next, aerr := qc.AdjustPriceByTicks(price, shade)
			if aerr != nil {
				return s.abandon(req, out, fmt.Errorf("%w: shade: %v", ErrAbandoned, aerr))
			}
			price = next

		case RejectTick:
			s.tele[req.Side].record(flagTick)
			s.met.TickRejections.Inc()
			if s.maybeSuppress(req.Side) {
				out.Status = StatusSuppressed
				out.Err = ErrSuppressed
				s.record(req, out, HistoryRejected)
				return out
			}

			// A tick rejection on a price the cached grid accepted
			// usually means the spec moved under us.
			if !refreshed {
				refreshed = true
				if fresh, ferr := s.specs.Refresh(ctx, s.symbol); ferr == nil {
					requoted, perr := fresh.QuantizePrice(req.Price, req.Side, req.PostOnly)
					resized, serr := fresh.QuantizeSize(req.SizeCoins)
					if perr == nil && serr == nil && !resized.IsZero() {
						qc = fresh
						if requoted.Int != price.Int || resized.Int != size.Int {
							price, size = requoted, resized
							continue
						}
					}
				}
			}

			if !s.quirky {
				return s.abandon(req, out, fmt.Errorf("%w: tick rejection", ErrAbandoned))
			}
			if tickDirs == nil {
				tickBase = price
				if req.Side == quant.Buy {
					tickDirs = []int64{-1, 1}
				} else {
					tickDirs = []int64{1, -1}
				}
			}
			if len(tickDirs) == 0 {
				s.discrepancies++
				s.log.Warn("tick grid discrepancy: both one-tick probes rejected",
					zap.String("side", req.Side.String()),
					zap.String("price", tickBase.Str))
				return s.abandon(req, out, fmt.Errorf("%w: tick discrepancy", ErrAbandoned))
			}
			next, aerr := qc.AdjustPriceByTicks(tickBase, tickDirs[0])
			tickDirs = tickDirs[1:]
			if aerr != nil {
				return s.abandon(req, out, fmt.Errorf("%w: tick probe: %v", ErrAbandoned, aerr))
			}
			price = next

		case RejectSize:
			s.tele[req.Side].record(flagOther)
			return s.abandon(req, out, fmt.Errorf("%w: size rejection: %s", ErrAbandoned, res.Raw))

		default:
			s.tele[req.Side].record(flagOther)
			return s.abandon(req, out, fmt.Errorf("%w: %s", ErrAbandoned, res.Raw))
		}
	}

	return s.abandon(req, out, ErrAbandoned)
}

// Cancel retries a cancel a couple of times; it is never blocked on pending
// submissions for the same symbol.
func (s *Submitter) Cancel(ctx context.Context, orderID string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = s.placer.Cancel(ctx, s.symbol, orderID); err == nil {
			if s.rec != nil {
				s.rec.Record(HistoryEntry{
					OrderID: orderID,
					Symbol:  s.symbol,
					Status:  HistoryCancelled,
					Time:    s.now(),
				})
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("cancel %s: %w", orderID, err)
}

// Suppressed reports whether the side is under cooldown right now.
func (s *Submitter) Suppressed(side quant.Side) bool {
	until, ok := s.suppressedUntil[side]
	return ok && s.now().Before(until)
}

// LastQuoted returns the deadzone anchor for the side, zero if none.
func (s *Submitter) LastQuoted(side quant.Side) float64 {
	return s.lastQuoted[side]
}

// Snapshot copies the telemetry state for audit persistence.
func (s *Submitter) Snapshot() TelemetrySnapshot {
	side := func(sd quant.Side) SideTelemetry {
		w := s.tele[sd]
		return SideTelemetry{
			Samples:         w.samples(),
			WindowTickErrs:  w.tickErrors(),
			LifetimeOK:      w.lifetimeOK,
			LifetimeTick:    w.lifetimeTick,
			LifetimeOther:   w.lifetimeOther,
			SuppressedUntil: s.suppressedUntil[sd],
		}
	}
	return TelemetrySnapshot{
		Symbol:        s.symbol,
		Buy:           side(quant.Buy),
		Sell:          side(quant.Sell),
		Discrepancies: s.discrepancies,
		DailyNotional: s.dailyNotional,
	}
}

// Restore reinstates persisted suppression cooldowns and counters after a
// restart. Expired cooldowns are dropped; the daily notional only carries
// over when the snapshot was taken on the current UTC day.
func (s *Submitter) Restore(taken time.Time, buyUntil, sellUntil time.Time, discrepancies int, dailyNotional float64) {
	now := s.now()
	if buyUntil.After(now) {
		s.suppressedUntil[quant.Buy] = buyUntil
	}
	if sellUntil.After(now) {
		s.suppressedUntil[quant.Sell] = sellUntil
	}
	if discrepancies > s.discrepancies {
		s.discrepancies = discrepancies
	}
	today := now.UTC().Truncate(24 * time.Hour)
	if taken.UTC().Truncate(24*time.Hour).Equal(today) && dailyNotional > s.dailyNotional {
		s.day = today
		s.dailyNotional = dailyNotional
	}
}

func (s *Submitter) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *Submitter) maybeSuppress(side quant.Side) bool {
	w := s.tele[side]
	if w.samples() < s.cfg.SuppressMinSamples {
		return false
	}
	if w.tickErrors() < s.cfg.SuppressThreshold {
		return false
	}
	until := s.now().Add(s.cfg.SuppressCooldown)
	s.suppressedUntil[side] = until
	s.met.SuppressionsEngaged.Inc()
	s.log.Warn("auto-suppression engaged",
		zap.String("side", side.String()),
		zap.Int("window_tick_errors", w.tickErrors()),
		zap.Int("window_samples", w.samples()),
		zap.Time("until", until))
	return true
}

func (s *Submitter) addDailyNotional(n float64) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	if !s.day.Equal(today) {
		s.day = today
		s.dailyNotional = 0
		s.dailyCapWarned = false
	}
	s.dailyNotional += n
	if s.cfg.DailyNotionalCapUSD > 0 && s.dailyNotional > s.cfg.DailyNotionalCapUSD && !s.dailyCapWarned {
		s.dailyCapWarned = true
		s.log.Warn("daily notional cap crossed",
			zap.Float64("traded_usd", s.dailyNotional),
			zap.Float64("cap_usd", s.cfg.DailyNotionalCapUSD))
	}
}

func (s *Submitter) abandon(req Request, out Outcome, err error) Outcome {
	out.Status = StatusAbandoned
	out.Err = err
	s.record(req, out, HistoryRejected)
	s.met.OrdersFailed.Inc()
	s.log.Warn("order abandoned",
		zap.String("side", req.Side.String()),
		zap.Int("attempts", out.Attempts),
		zap.Error(err))
	return out
}

// fatal marks a local validation failure: loud log, never submitted, never
// retried, and no shared state beyond the history entry is touched.
func (s *Submitter) fatal(req Request, out Outcome, err error) Outcome {
	out.Status = StatusFatal
	out.Err = err
	s.record(req, out, HistoryRejected)
	s.met.OrdersFailed.Inc()
	s.log.Error("order failed local format validation",
		zap.String("side", req.Side.String()),
		zap.Float64("raw_price", req.Price),
		zap.Float64("raw_size", req.SizeCoins),
		zap.Error(err))
	return out
}

func (s *Submitter) record(req Request, out Outcome, status HistoryStatus) {
	if s.rec == nil {
		return
	}
	s.rec.Record(HistoryEntry{
		Cloid:   out.Cloid,
		OrderID: out.OrderID,
		Symbol:  s.symbol,
		Side:    req.Side,
		Price:   out.Price.Str,
		Size:    out.Size.Str,
		Status:  status,
		Time:    s.now(),
	})
}
