package inventory

import (
	"fmt"
	"math"

	"hl-mm-bot/internal/quant"
)

// UnwindMode controls forced position reduction for a symbol.
type UnwindMode int

const (
	UnwindOff UnwindMode = iota
	// UnwindManual forces reduce-only unconditionally.
	UnwindManual
	// UnwindAuto forces reduce-only once |position| crosses cap*threshold.
	UnwindAuto
)

func ParseUnwindMode(s string) (UnwindMode, error) {
	switch s {
	case "", "off":
		return UnwindOff, nil
	case "manual":
		return UnwindManual, nil
	case "auto":
		return UnwindAuto, nil
	}
	return UnwindOff, fmt.Errorf("unknown unwind mode %q", s)
}

// Limits is the per-symbol inventory policy. Exactly one of MaxPositionCoins
// or MaxPositionUSD should be set; a USD cap resolves to coins at the current
// price on each check.
type Limits struct {
	MaxPositionCoins float64
	MaxPositionUSD   float64
	Unwind           UnwindMode
	// UnwindThreshold multiplies the cap for UnwindAuto tripping. Zero
	// means 1.0.
	UnwindThreshold float64
}

func (l Limits) capCoins(price float64) float64 {
	if l.MaxPositionCoins > 0 {
		return l.MaxPositionCoins
	}
	if l.MaxPositionUSD > 0 && price > 0 {
		return l.MaxPositionUSD / price
	}
	return math.Inf(1)
}

func (l Limits) unwindTrip() float64 {
	if l.UnwindThreshold > 0 {
		return l.UnwindThreshold
	}
	return 1.0
}

type DenyReason int

const (
	DenyNone DenyReason = iota
	DenyCapExceeded
	DenyUnwinding
)

func (r DenyReason) String() string {
	switch r {
	case DenyCapExceeded:
		return "cap-exceeded"
	case DenyUnwinding:
		return "unwinding"
	default:
		return "none"
	}
}

// Decision is the guard's verdict for one proposed order. ForceReduceOnly
// instructs the caller to submit the order with the reduce-only flag set.
type Decision struct {
	Allow           bool
	ForceReduceOnly bool
	Reason          DenyReason
	Projected       float64
}

// Book is the per-symbol signed position cache (positive = long). It is
// owned by the symbol's worker and mutated only by confirmed fills and
// position reads, never by order submission.
type Book struct {
	position float64
}

func (b *Book) Position() float64 { return b.position }

func (b *Book) SetPosition(p float64) { b.position = p }

func (b *Book) ApplyFill(side quant.Side, size float64) {
	if side == quant.Buy {
		b.position += size
	} else {
		b.position -= size
	}
}

// Evaluate decides whether a proposed order may be submitted. An order is
// denied only when the projected position exceeds the cap AND grows absolute
// exposure; exposure-reducing orders pass regardless of cap state so a
// position can always be unwound. Unwind mode is applied first and converts
// reducing orders to reduce-only instead of blocking them.
func Evaluate(b *Book, l Limits, side quant.Side, size, price float64) Decision {
	pos := b.Position()
	projected := pos + size
	if side == quant.Sell {
		projected = pos - size
	}
	increases := math.Abs(projected) > math.Abs(pos)

	forceReduce := false
	switch l.Unwind {
	case UnwindManual:
		forceReduce = true
	case UnwindAuto:
		if trip := l.capCoins(price) * l.unwindTrip(); math.Abs(pos) > trip {
			forceReduce = true
		}
	}
	if forceReduce && increases {
		return Decision{Reason: DenyUnwinding, Projected: projected}
	}

	if increases && math.Abs(projected) > l.capCoins(price) {
		return Decision{Reason: DenyCapExceeded, Projected: projected}
	}
	return Decision{Allow: true, ForceReduceOnly: forceReduce, Projected: projected}
}
