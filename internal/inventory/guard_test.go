package inventory

import (
	"testing"

	"hl-mm-bot/internal/quant"
)

func TestEvaluateCapDeniesIncrease(t *testing.T) {
	b := &Book{}
	b.SetPosition(100)
	l := Limits{MaxPositionCoins: 100}

	d := Evaluate(b, l, quant.Buy, 10, 1)
	if d.Allow {
		t.Fatalf("buy past cap allowed (projected %.1f)", d.Projected)
	}
	if d.Reason != DenyCapExceeded {
		t.Fatalf("reason = %s, want cap-exceeded", d.Reason)
	}

	d = Evaluate(b, l, quant.Sell, 10, 1)
	if !d.Allow {
		t.Fatal("exposure-reducing sell denied")
	}
	if d.Projected != 90 {
		t.Fatalf("projected = %.1f, want 90", d.Projected)
	}
}

func TestEvaluateReduceAllowedOverCap(t *testing.T) {
	b := &Book{}
	b.SetPosition(120)
	l := Limits{MaxPositionCoins: 100}

	// Projected 110 still exceeds the cap, but |110| < |120|: always allowed.
	d := Evaluate(b, l, quant.Sell, 10, 1)
	if !d.Allow {
		t.Fatal("over-cap reducing sell denied")
	}

	if d := Evaluate(b, l, quant.Buy, 1, 1); d.Allow {
		t.Fatal("over-cap increasing buy allowed")
	}
}

func TestEvaluateShortSide(t *testing.T) {
	b := &Book{}
	b.SetPosition(-95)
	l := Limits{MaxPositionCoins: 100}

	if d := Evaluate(b, l, quant.Sell, 10, 1); d.Allow {
		t.Fatal("sell deepening a short past cap allowed")
	}
	if d := Evaluate(b, l, quant.Buy, 10, 1); !d.Allow {
		t.Fatal("buy covering a short denied")
	}
}

func TestEvaluateUSDCap(t *testing.T) {
	b := &Book{}
	b.SetPosition(0)
	l := Limits{MaxPositionUSD: 500}

	// At price 10 the cap is 50 coins.
	if d := Evaluate(b, l, quant.Buy, 60, 10); d.Allow {
		t.Fatal("buy past USD cap allowed")
	}
	if d := Evaluate(b, l, quant.Buy, 40, 10); !d.Allow {
		t.Fatal("buy inside USD cap denied")
	}
}

func TestEvaluateUnwindManual(t *testing.T) {
	b := &Book{}
	b.SetPosition(20)
	l := Limits{MaxPositionCoins: 100, Unwind: UnwindManual}

	d := Evaluate(b, l, quant.Sell, 5, 1)
	if !d.Allow || !d.ForceReduceOnly {
		t.Fatalf("reducing order under manual unwind: %+v", d)
	}
	d = Evaluate(b, l, quant.Buy, 5, 1)
	if d.Allow {
		t.Fatal("increasing order under manual unwind allowed")
	}
	if d.Reason != DenyUnwinding {
		t.Fatalf("reason = %s, want unwinding", d.Reason)
	}
}

func TestEvaluateUnwindAuto(t *testing.T) {
	l := Limits{MaxPositionCoins: 100, Unwind: UnwindAuto, UnwindThreshold: 1.2}

	calm := &Book{}
	calm.SetPosition(110)
	if d := Evaluate(calm, l, quant.Sell, 5, 1); d.ForceReduceOnly {
		t.Fatal("auto unwind tripped below threshold")
	}

	tripped := &Book{}
	tripped.SetPosition(130)
	d := Evaluate(tripped, l, quant.Sell, 5, 1)
	if !d.Allow || !d.ForceReduceOnly {
		t.Fatalf("auto unwind above threshold: %+v", d)
	}
}

func TestBookFills(t *testing.T) {
	b := &Book{}
	b.ApplyFill(quant.Buy, 3)
	b.ApplyFill(quant.Sell, 1)
	if b.Position() != 2 {
		t.Fatalf("position = %.1f, want 2", b.Position())
	}
}
