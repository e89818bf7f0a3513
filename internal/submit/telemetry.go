package submit

import "time"

type outcomeFlag uint8

const (
	flagOK outcomeFlag = iota
	flagTick
	flagOther
)

// teleWindow is a fixed-size FIFO of recent attempt outcomes for one
// (symbol, side) key, plus lifetime counters. Owned by a single worker, so
// no locking.
type teleWindow struct {
	buf  []outcomeFlag
	next int
	n    int

	lifetimeOK    uint64
	lifetimeTick  uint64
	lifetimeOther uint64
}

func newTeleWindow(size int) *teleWindow {
	return &teleWindow{buf: make([]outcomeFlag, size)}
}

func (w *teleWindow) record(f outcomeFlag) {
	w.buf[w.next] = f
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
	switch f {
	case flagOK:
		w.lifetimeOK++
	case flagTick:
		w.lifetimeTick++
	default:
		w.lifetimeOther++
	}
}

func (w *teleWindow) samples() int { return w.n }

func (w *teleWindow) tickErrors() int {
	count := 0
	for i := 0; i < w.n; i++ {
		if w.buf[i] == flagTick {
			count++
		}
	}
	return count
}

// SideTelemetry is a point-in-time copy for audit snapshots.
type SideTelemetry struct {
	Samples         int
	WindowTickErrs  int
	LifetimeOK      uint64
	LifetimeTick    uint64
	LifetimeOther   uint64
	SuppressedUntil time.Time
}

type TelemetrySnapshot struct {
	Symbol        string
	Buy           SideTelemetry
	Sell          SideTelemetry
	Discrepancies int
	DailyNotional float64
}
