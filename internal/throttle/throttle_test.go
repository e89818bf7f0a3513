package throttle

import (
	"testing"
	"time"
)

func TestCancelThrottlePerSymbol(t *testing.T) {
	tt := NewCancelThrottle(2, 10)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tt.now = func() time.Time { return clock }

	if !tt.Allow("SOL") || !tt.Allow("SOL") {
		t.Fatal("first two cancels should pass")
	}
	if tt.Allow("SOL") {
		t.Fatal("third cancel in the window should be throttled")
	}
	// A different symbol draws from its own window.
	if !tt.Allow("ETH") {
		t.Fatal("other symbol throttled by SOL's window")
	}

	clock = clock.Add(61 * time.Second)
	if !tt.Allow("SOL") {
		t.Fatal("window should have slid open")
	}
}

func TestCancelThrottleGlobal(t *testing.T) {
	tt := NewCancelThrottle(10, 3)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tt.now = func() time.Time { return clock }

	tt.Allow("A")
	tt.Allow("B")
	tt.Allow("C")
	if tt.Allow("D") {
		t.Fatal("global window exhausted, cancel should be throttled")
	}
}

func TestCancelThrottleDeniedNotRecorded(t *testing.T) {
	tt := NewCancelThrottle(1, 10)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tt.now = func() time.Time { return clock }

	tt.Allow("SOL")
	for i := 0; i < 5; i++ {
		tt.Allow("SOL")
	}
	if len(tt.global) != 1 {
		t.Fatalf("denied attempts recorded: global window has %d entries", len(tt.global))
	}
}

func TestWeightCounter(t *testing.T) {
	w := NewWeightCounter(100, 0.8)
	clock := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	w.now = func() time.Time { return clock }

	used, near := w.Add(50)
	if used != 50 || near {
		t.Fatalf("Add(50) = %d, %v", used, near)
	}
	used, near = w.Add(30)
	if used != 80 || !near {
		t.Fatalf("Add to 80 of 100 should be near limit: %d, %v", used, near)
	}

	// New minute resets the bucket.
	clock = clock.Add(time.Minute)
	used, near = w.Add(10)
	if used != 10 || near {
		t.Fatalf("fresh minute: %d, %v", used, near)
	}
	if w.Used() != 10 {
		t.Fatalf("Used = %d, want 10", w.Used())
	}
}
