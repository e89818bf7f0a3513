package quant

import "testing"

func mustContext(t *testing.T, tick, lot float64) Context {
	t.Helper()
	ctx, err := NewContext(tick, lot)
	if err != nil {
		t.Fatalf("NewContext(%v, %v): %v", tick, lot, err)
	}
	return ctx
}

func TestStepDecimals(t *testing.T) {
	cases := []struct {
		step float64
		want int
	}{
		{1, 0},
		{0.1, 1},
		{0.01, 2},
		{0.0001, 4},
		{0.00000001, 8},
		{5, 0},
		{0, 0},
		{-1, 0},
	}
	for _, tc := range cases {
		if got := StepDecimals(tc.step); got != tc.want {
			t.Fatalf("StepDecimals(%v) = %d, want %d", tc.step, got, tc.want)
		}
	}
}

func TestQuantizePriceSideAware(t *testing.T) {
	ctx := mustContext(t, 0.0001, 1)

	buy, err := ctx.QuantizePrice(0.92345, Buy, false)
	if err != nil {
		t.Fatalf("buy quantize: %v", err)
	}
	if buy.Str != "0.9235" {
		t.Fatalf("buy rounds up: got %s, want 0.9235", buy.Str)
	}
	sell, err := ctx.QuantizePrice(0.92345, Sell, false)
	if err != nil {
		t.Fatalf("sell quantize: %v", err)
	}
	if sell.Str != "0.9234" {
		t.Fatalf("sell rounds down: got %s, want 0.9234", sell.Str)
	}
}

func TestQuantizePriceMakerNudge(t *testing.T) {
	ctx := mustContext(t, 0.0001, 1)

	buy, err := ctx.QuantizePrice(0.92345, Buy, true)
	if err != nil {
		t.Fatalf("maker buy: %v", err)
	}
	if buy.Str != "0.9234" {
		t.Fatalf("maker buy nudges down: got %s, want 0.9234", buy.Str)
	}
	sell, err := ctx.QuantizePrice(0.92345, Sell, true)
	if err != nil {
		t.Fatalf("maker sell: %v", err)
	}
	if sell.Str != "0.9235" {
		t.Fatalf("maker sell nudges up: got %s, want 0.9235", sell.Str)
	}

	// On-grid input still shifts exactly one tick away from the touch.
	onGrid, err := ctx.QuantizePrice(0.9235, Buy, true)
	if err != nil {
		t.Fatalf("on-grid maker buy: %v", err)
	}
	if onGrid.Int != buy.Int {
		t.Fatalf("on-grid maker buy: got %s, want 0.9234", onGrid.Str)
	}
}

func TestQuantizePriceIdempotent(t *testing.T) {
	ctx := mustContext(t, 0.0001, 1)
	for _, side := range []Side{Buy, Sell} {
		first, err := ctx.QuantizePrice(1.2345678, side, false)
		if err != nil {
			t.Fatalf("first pass: %v", err)
		}
		second, err := ctx.QuantizePrice(first.Val, side, false)
		if err != nil {
			t.Fatalf("second pass: %v", err)
		}
		if second.Int != first.Int || second.Str != first.Str {
			t.Fatalf("%v drifts on re-quantization: %s -> %s", side, first.Str, second.Str)
		}
	}
}

func TestQuantizePriceBounds(t *testing.T) {
	ctx := mustContext(t, 0.01, 1)
	for _, px := range []float64{0.015, 1.004, 99.999, 1234.567} {
		buy, err := ctx.QuantizePrice(px, Buy, false)
		if err != nil {
			t.Fatalf("buy %v: %v", px, err)
		}
		if buy.Val < px-1e-9 {
			t.Fatalf("buy %v rounded below input to %s", px, buy.Str)
		}
		sell, err := ctx.QuantizePrice(px, Sell, false)
		if err != nil {
			t.Fatalf("sell %v: %v", px, err)
		}
		if sell.Val > px+1e-9 {
			t.Fatalf("sell %v rounded above input to %s", px, sell.Str)
		}
	}
}

func TestQuantizePriceCollapse(t *testing.T) {
	ctx := mustContext(t, 0.01, 1)
	if _, err := ctx.QuantizePrice(0.004, Sell, false); err == nil {
		t.Fatal("sub-tick sell should fail, not quantize to zero")
	}
	if _, err := ctx.QuantizePrice(0.01, Buy, true); err == nil {
		t.Fatal("maker buy at one tick should fail, not nudge to zero")
	}
}

func TestQuantizeSizeWholeLot(t *testing.T) {
	ctx := mustContext(t, 0.0001, 1)
	sz, err := ctx.QuantizeSize(21)
	if err != nil {
		t.Fatalf("quantize size: %v", err)
	}
	if sz.Str != "21" || sz.Int != 21 {
		t.Fatalf("whole-lot size changed: got %s", sz.Str)
	}
	frac, err := ctx.QuantizeSize(21.9)
	if err != nil {
		t.Fatalf("quantize size: %v", err)
	}
	if frac.Str != "21" {
		t.Fatalf("size should floor to lot: got %s", frac.Str)
	}
}

func TestQuantizeSizeSafeMultiples(t *testing.T) {
	cases := []struct {
		lot      float64
		multiple int64
	}{
		{0.1, 10},
		{0.01, 100},
		{0.001, 1000},
	}
	inputs := []float64{0.37, 1.234567, 12.90001, 555.5555}
	for _, tc := range cases {
		ctx := mustContext(t, 0.0001, tc.lot)
		for _, in := range inputs {
			sz, err := ctx.QuantizeSize(in)
			if err != nil {
				t.Fatalf("lot %v size %v: %v", tc.lot, in, err)
			}
			steps := sz.Int / ctx.LotInt
			if steps%tc.multiple != 0 {
				t.Fatalf("lot %v size %v: %d steps not a multiple of %d", tc.lot, in, steps, tc.multiple)
			}
		}
	}
}

func TestQuantizeSizeFloatNoise(t *testing.T) {
	ctx := mustContext(t, 0.0001, 1)
	// 20.999999999999996 is what naive float math hands us for 21.
	sz, err := ctx.QuantizeSize(20.999999999999996)
	if err != nil {
		t.Fatalf("quantize size: %v", err)
	}
	if sz.Str != "21" {
		t.Fatalf("representation noise should round away: got %s", sz.Str)
	}
}

func TestQuantizeSizeBelowLot(t *testing.T) {
	ctx := mustContext(t, 0.0001, 0.1)
	sz, err := ctx.QuantizeSize(0.05)
	if err != nil {
		t.Fatalf("quantize size: %v", err)
	}
	if !sz.IsZero() {
		t.Fatalf("sub-lot size should quantize to zero, got %s", sz.Str)
	}
}

func TestAdjustPriceByTicks(t *testing.T) {
	ctx := mustContext(t, 0.0001, 1)
	p, err := ctx.QuantizePrice(0.9234, Buy, false)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	up, err := ctx.AdjustPriceByTicks(p, 3)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if up.Str != "0.9237" {
		t.Fatalf("adjust +3: got %s, want 0.9237", up.Str)
	}
	down, err := ctx.AdjustPriceByTicks(p, -1)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if down.Str != "0.9233" {
		t.Fatalf("adjust -1: got %s, want 0.9233", down.Str)
	}
	if _, err := ctx.AdjustPriceByTicks(p, -10000); err == nil {
		t.Fatal("adjust below zero should fail")
	}
}

func TestMeetsMinNotional(t *testing.T) {
	ctx := mustContext(t, 0.0001, 0.1)
	p, err := ctx.QuantizePrice(2.5, Buy, false)
	if err != nil {
		t.Fatalf("quantize price: %v", err)
	}
	sz, err := ctx.QuantizeSize(4)
	if err != nil {
		t.Fatalf("quantize size: %v", err)
	}
	if !ctx.MeetsMinNotional(p, sz, 10) {
		t.Fatal("2.5 * 4 = 10 should meet min notional 10")
	}
	if ctx.MeetsMinNotional(p, sz, 10.0001) {
		t.Fatal("2.5 * 4 = 10 should fail min notional 10.0001")
	}
}

func TestDecStrRoundTrip(t *testing.T) {
	cases := []struct {
		s        string
		decimals int
		want     int64
	}{
		{"0.9234", 4, 9234},
		{"21", 0, 21},
		{"1.5", 4, 15000},
		{"0.0001", 4, 1},
		{"123.45", 2, 12345},
	}
	for _, tc := range cases {
		got, err := DecStrToInt(tc.s, tc.decimals)
		if err != nil {
			t.Fatalf("DecStrToInt(%q, %d): %v", tc.s, tc.decimals, err)
		}
		if got != tc.want {
			t.Fatalf("DecStrToInt(%q, %d) = %d, want %d", tc.s, tc.decimals, got, tc.want)
		}
	}
	if IntToDecStr(9234, 4) != "0.9234" {
		t.Fatalf("IntToDecStr(9234, 4) = %s", IntToDecStr(9234, 4))
	}
	if IntToDecStr(15000, 4) != "1.5" {
		t.Fatalf("trailing zeros should trim: %s", IntToDecStr(15000, 4))
	}
	if IntToDecStr(21, 0) != "21" {
		t.Fatalf("IntToDecStr(21, 0) = %s", IntToDecStr(21, 0))
	}
	if _, err := DecStrToInt("1.23456", 4); err == nil {
		t.Fatal("excess fraction digits should be rejected")
	}
}
