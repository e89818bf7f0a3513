package quant

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// maxDecimals bounds the integer scale so scaled values stay well inside int64.
const maxDecimals = 18

// guardDecimals are extra fraction digits carried while parsing float inputs,
// so binary representation noise is rounded away below the tick/lot scale.
const guardDecimals = 6

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Price is an exchange-legal price: integer at the context's price scale plus
// its wire string. Val is a float convenience for policy math and logging,
// never for formatting.
type Price struct {
	Int int64
	Str string
	Val float64
}

// Size is an exchange-legal size at the context's size scale.
type Size struct {
	Int int64
	Str string
	Val float64
}

func (s Size) IsZero() bool { return s.Int == 0 }

// Context holds the integer tick/lot grid for one instrument. It is derived
// once per spec refresh and must be rebuilt whenever the underlying
// InstrumentSpec changes.
type Context struct {
	PriceDecimals int
	SizeDecimals  int
	TickInt       int64
	LotInt        int64

	priceRe *regexp.Regexp
	sizeRe  *regexp.Regexp
}

// StepDecimals derives the decimal count for a tick or lot step:
// floor(-log10(step)), clamped to [0, 18]. Degenerate steps yield 0.
func StepDecimals(step float64) int {
	if step <= 0 {
		return 0
	}
	d := int(math.Floor(-math.Log10(step) + 1e-9))
	if d < 0 {
		return 0
	}
	if d > maxDecimals {
		return maxDecimals
	}
	return d
}

func NewContext(tickSize, lotSize float64) (Context, error) {
	if tickSize <= 0 {
		return Context{}, fmt.Errorf("invalid tick size %v", tickSize)
	}
	if lotSize <= 0 {
		return Context{}, fmt.Errorf("invalid lot size %v", lotSize)
	}
	pd := StepDecimals(tickSize)
	sd := StepDecimals(lotSize)
	tickInt := int64(math.Round(tickSize * math.Pow10(pd)))
	lotInt := int64(math.Round(lotSize * math.Pow10(sd)))
	if tickInt <= 0 || lotInt <= 0 {
		return Context{}, fmt.Errorf("tick/lot collapse to zero at scale: tick=%v lot=%v", tickSize, lotSize)
	}
	return Context{
		PriceDecimals: pd,
		SizeDecimals:  sd,
		TickInt:       tickInt,
		LotInt:        lotInt,
		priceRe:       formatRe(pd),
		sizeRe:        formatRe(sd),
	}, nil
}

func formatRe(decimals int) *regexp.Regexp {
	if decimals == 0 {
		return regexp.MustCompile(`^[0-9]+$`)
	}
	return regexp.MustCompile(fmt.Sprintf(`^[0-9]+(\.[0-9]{1,%d})?$`, decimals))
}

// QuantizePrice snaps a price onto the tick grid. Buys round up to the next
// tick, sells round down, so the quantizer never moves a price across the
// grid in a side-inconsistent direction. With makerOnly set the snapped price
// is shifted one further tick away from the touch (buy down, sell up) so a
// post-only order cannot cross.
func (c Context) QuantizePrice(price float64, side Side, makerOnly bool) (Price, error) {
	scale := c.PriceDecimals + guardDecimals
	pi, err := scaleParse(price, scale)
	if err != nil {
		return Price{}, fmt.Errorf("price %v: %w", price, err)
	}
	tick, err := mulPow10(c.TickInt, guardDecimals)
	if err != nil {
		return Price{}, err
	}
	steps := pi / tick
	if pi%tick != 0 && side == Buy {
		steps++
	}
	if makerOnly {
		if side == Buy {
			steps--
		} else {
			steps++
		}
	}
	if steps <= 0 {
		return Price{}, fmt.Errorf("price %v collapses below one tick", price)
	}
	pxInt := steps * c.TickInt
	str := IntToDecStr(pxInt, c.PriceDecimals)
	if !c.priceRe.MatchString(str) {
		return Price{}, fmt.Errorf("formatted price %q fails %d-decimal validation", str, c.PriceDecimals)
	}
	return Price{Int: pxInt, Str: str, Val: float64(pxInt) / math.Pow10(c.PriceDecimals)}, nil
}

// QuantizeSize floors a size onto the lot grid. For decimal lot sizes that
// are inexact in binary (0.1, 0.01, 0.001) the step count is further floored
// to a safe multiple (10, 100, 1000) to eliminate representation off-by-ones.
// A size below one (safe) lot quantizes to zero; the caller decides whether
// that rejects the order.
func (c Context) QuantizeSize(size float64) (Size, error) {
	scale := c.SizeDecimals + guardDecimals
	si, err := scaleParse(size, scale)
	if err != nil {
		return Size{}, fmt.Errorf("size %v: %w", size, err)
	}
	lot, err := mulPow10(c.LotInt, guardDecimals)
	if err != nil {
		return Size{}, err
	}
	steps := si / lot
	if m := c.safeStepMultiple(); m > 1 {
		steps = steps / m * m
	}
	szInt := steps * c.LotInt
	str := IntToDecStr(szInt, c.SizeDecimals)
	if !c.sizeRe.MatchString(str) {
		return Size{}, fmt.Errorf("formatted size %q fails %d-decimal validation", str, c.SizeDecimals)
	}
	return Size{Int: szInt, Str: str, Val: float64(szInt) / math.Pow10(c.SizeDecimals)}, nil
}

// safeStepMultiple reports the step-count rounding unit for lots whose float
// form is inexact. Lot 0.1 -> 10, 0.01 -> 100, 0.001 -> 1000, all else 1.
func (c Context) safeStepMultiple() int64 {
	if c.LotInt != 1 {
		return 1
	}
	switch c.SizeDecimals {
	case 1:
		return 10
	case 2:
		return 100
	case 3:
		return 1000
	}
	return 1
}

// AddLots grows an already-quantized size by n safe lot steps.
func (c Context) AddLots(s Size, n int64) (Size, error) {
	step := c.safeStepMultiple() * c.LotInt
	szInt := s.Int + n*step
	if szInt < 0 {
		return Size{}, fmt.Errorf("size %s shifted %d lots goes negative", s.Str, n)
	}
	str := IntToDecStr(szInt, c.SizeDecimals)
	if !c.sizeRe.MatchString(str) {
		return Size{}, fmt.Errorf("formatted size %q fails %d-decimal validation", str, c.SizeDecimals)
	}
	return Size{Int: szInt, Str: str, Val: float64(szInt) / math.Pow10(c.SizeDecimals)}, nil
}

// AdjustPriceByTicks shifts an already-quantized price by a signed number of
// ticks, staying in the integer domain.
func (c Context) AdjustPriceByTicks(p Price, ticks int64) (Price, error) {
	pxInt := p.Int + ticks*c.TickInt
	if pxInt <= 0 {
		return Price{}, fmt.Errorf("price %s shifted %d ticks collapses below one tick", p.Str, ticks)
	}
	str := IntToDecStr(pxInt, c.PriceDecimals)
	if !c.priceRe.MatchString(str) {
		return Price{}, fmt.Errorf("formatted price %q fails %d-decimal validation", str, c.PriceDecimals)
	}
	return Price{Int: pxInt, Str: str, Val: float64(pxInt) / math.Pow10(c.PriceDecimals)}, nil
}

// MeetsMinNotional compares price*size against a minimum notional using exact
// integer arithmetic, immune to int64 overflow on the product.
func (c Context) MeetsMinNotional(p Price, s Size, minNotional float64) bool {
	if minNotional <= 0 {
		return true
	}
	scale := c.PriceDecimals + c.SizeDecimals
	notional := new(big.Int).Mul(big.NewInt(p.Int), big.NewInt(s.Int))
	minStr := strconv.FormatFloat(minNotional, 'f', scale, 64)
	minScaled, ok := new(big.Int).SetString(strings.Replace(minStr, ".", "", 1), 10)
	if !ok {
		return false
	}
	return notional.Cmp(minScaled) >= 0
}

// ValidatePriceStr re-checks a wire price string against the context's exact
// decimal format. Used as the last defense before an order leaves the process.
func (c Context) ValidatePriceStr(s string) error {
	if !c.priceRe.MatchString(s) {
		return fmt.Errorf("price %q does not match %d-decimal format", s, c.PriceDecimals)
	}
	return nil
}

func (c Context) ValidateSizeStr(s string) error {
	if !c.sizeRe.MatchString(s) {
		return fmt.Errorf("size %q does not match %d-decimal format", s, c.SizeDecimals)
	}
	return nil
}

// DecStrToInt parses a non-negative decimal string into an integer at the
// given scale. Fraction digits beyond the scale are rejected, not rounded.
func DecStrToInt(s string, decimals int) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty decimal string")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return 0, fmt.Errorf("%q has more than %d fraction digits", s, decimals)
	}
	var v int64
	for _, ch := range whole {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("invalid decimal string %q", s)
		}
		d := int64(ch - '0')
		if v > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("%q overflows at scale %d", s, decimals)
		}
		v = v*10 + d
	}
	for i := 0; i < decimals; i++ {
		var d int64
		if i < len(frac) {
			ch := frac[i]
			if ch < '0' || ch > '9' {
				return 0, fmt.Errorf("invalid decimal string %q", s)
			}
			d = int64(ch - '0')
		}
		if v > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("%q overflows at scale %d", s, decimals)
		}
		v = v*10 + d
	}
	return v, nil
}

// IntToDecStr renders a scaled integer as a decimal string with trailing
// zeros trimmed, matching the exchange's canonical number format.
func IntToDecStr(v int64, decimals int) string {
	if decimals == 0 {
		return strconv.FormatInt(v, 10)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], s[len(s)-decimals:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// scaleParse converts a float to an integer at the given decimal scale via a
// single decimal-string round trip; no float division is involved.
func scaleParse(v float64, decimals int) (int64, error) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite non-negative number: %v", v)
	}
	return DecStrToInt(strconv.FormatFloat(v, 'f', decimals, 64), decimals)
}

func mulPow10(v int64, n int) (int64, error) {
	for i := 0; i < n; i++ {
		if v > math.MaxInt64/10 {
			return 0, fmt.Errorf("scaled value overflows int64")
		}
		v *= 10
	}
	return v, nil
}
