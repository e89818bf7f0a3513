package sizing

import (
	"errors"
	"fmt"
	"math"

	"hl-mm-bot/internal/quant"
)

// ErrBelowFloor is returned when an order cannot clear the per-symbol minimum
// notional even after the allowed bump. Callers drop the order with a signal,
// never silently.
var ErrBelowFloor = errors.New("notional below minimum after normalization")

// Policy is the per-symbol notional policy. MaxUSDAbs defaults to 3x MaxUSD
// when unset.
type Policy struct {
	MinUSD    float64
	TargetUSD float64
	MaxUSD    float64
	MaxUSDAbs float64
}

func (p Policy) hardCap() float64 {
	if p.MaxUSDAbs > 0 {
		return p.MaxUSDAbs
	}
	return 3 * p.MaxUSD
}

func (p Policy) softCap() float64 {
	return math.Min(p.MaxUSD, 2*p.TargetUSD)
}

func (p Policy) Validate() error {
	if p.MinUSD <= 0 || p.TargetUSD <= 0 || p.MaxUSD <= 0 {
		return fmt.Errorf("min/target/max must be positive: %+v", p)
	}
	if p.MinUSD > p.TargetUSD || p.TargetUSD > p.MaxUSD {
		return fmt.Errorf("want min <= target <= max: %+v", p)
	}
	if p.MaxUSDAbs != 0 && p.MaxUSDAbs < p.MaxUSD {
		return fmt.Errorf("absolute cap below max: %+v", p)
	}
	return nil
}

type ClampReason int

const (
	ClampNone ClampReason = iota
	ClampMinBump
	ClampSoftCap
	ClampHardCap
)

func (r ClampReason) String() string {
	switch r {
	case ClampMinBump:
		return "min-bump"
	case ClampSoftCap:
		return "soft-cap"
	case ClampHardCap:
		return "hard-cap"
	default:
		return "none"
	}
}

// NormalizedOrder is a lot-legal size together with its notional and the
// clamp applied to reach it.
type NormalizedOrder struct {
	Size     quant.Size
	Notional float64
	Clamp    ClampReason
}

// Normalize fits a raw coin size to the policy at the given price: bump up to
// the floor, shrink to the soft cap min(maxUsd, 2*targetUsd), then to the
// absolute ceiling. The result is re-snapped to the lot grid after every
// adjustment.
func Normalize(qc quant.Context, pol Policy, price quant.Price, sizeCoins float64) (NormalizedOrder, error) {
	if price.Val <= 0 {
		return NormalizedOrder{}, fmt.Errorf("non-positive price %s", price.Str)
	}
	sz, err := qc.QuantizeSize(sizeCoins)
	if err != nil {
		return NormalizedOrder{}, err
	}

	reason := ClampNone
	notional := price.Val * sz.Val

	if notional < pol.MinUSD {
		sz, err = qc.QuantizeSize(pol.MinUSD / price.Val)
		if err != nil {
			return NormalizedOrder{}, err
		}
		// Lot flooring can land just under the floor again; one safe lot
		// step clears it.
		if price.Val*sz.Val < pol.MinUSD {
			sz, err = qc.AddLots(sz, 1)
			if err != nil {
				return NormalizedOrder{}, err
			}
		}
		notional = price.Val * sz.Val
		reason = ClampMinBump
	}

	if limit := pol.softCap(); notional > limit {
		sz, err = qc.QuantizeSize(limit / price.Val)
		if err != nil {
			return NormalizedOrder{}, err
		}
		notional = price.Val * sz.Val
		reason = ClampSoftCap
	}

	if limit := pol.hardCap(); notional > limit {
		sz, err = qc.QuantizeSize(limit / price.Val)
		if err != nil {
			return NormalizedOrder{}, err
		}
		notional = price.Val * sz.Val
		reason = ClampHardCap
	}

	if sz.IsZero() || notional < pol.MinUSD {
		return NormalizedOrder{}, fmt.Errorf("%w: %.4f < %.4f at price %s", ErrBelowFloor, notional, pol.MinUSD, price.Str)
	}
	return NormalizedOrder{Size: sz, Notional: notional, Clamp: reason}, nil
}

// Rebucket redistributes the summed budget of proposed child notionals into
// whole target-sized buckets, left to right. A budget too small for one
// bucket funds a single order when it clears the floor. A tail remainder
// above the floor becomes one final smaller child; anything below the floor
// is dropped as dust. Every emitted child is within [minUsd, target] and the
// emitted sum never exceeds the input budget.
func Rebucket(pol Policy, proposed []float64) []float64 {
	if len(proposed) == 0 {
		return nil
	}
	target := math.Max(pol.TargetUSD, pol.MinUSD+2)
	total := 0.0
	for _, n := range proposed {
		if n > 0 {
			total += n
		}
	}
	slots := int(total / target)
	if slots == 0 {
		if total >= pol.MinUSD {
			return []float64{math.Min(total, target)}
		}
		return nil
	}
	if slots > len(proposed) {
		slots = len(proposed)
	}

	out := make([]float64, 0, slots+1)
	remaining := total
	for i := 0; i < slots; i++ {
		reserve := float64(slots-1-i) * target
		alloc := remaining - reserve
		if alloc > target {
			alloc = target
		}
		if alloc < pol.MinUSD {
			alloc = pol.MinUSD
		}
		if alloc > remaining {
			break
		}
		out = append(out, alloc)
		remaining -= alloc
	}
	if remaining >= pol.MinUSD {
		out = append(out, math.Min(remaining, target))
	}
	return out
}
