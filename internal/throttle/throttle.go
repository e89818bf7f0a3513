package throttle

import (
	"sync"
	"sync/atomic"
	"time"
)

// CancelThrottle bounds cancel/replace volume with sliding 60-second windows,
// one per symbol plus a global one shared by every worker.
type CancelThrottle struct {
	perSymbolMax int
	globalMax    int
	window       time.Duration
	now          func() time.Time

	mu     sync.Mutex
	global []time.Time
	perSym map[string][]time.Time
}

func NewCancelThrottle(perSymbolMax, globalMax int) *CancelThrottle {
	return &CancelThrottle{
		perSymbolMax: perSymbolMax,
		globalMax:    globalMax,
		window:       time.Minute,
		now:          time.Now,
		perSym:       make(map[string][]time.Time),
	}
}

// Allow reports whether one more cancel may go out for the symbol and, if so,
// records it against both windows.
func (t *CancelThrottle) Allow(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	t.global = prune(t.global, cutoff)
	t.perSym[symbol] = prune(t.perSym[symbol], cutoff)

	if t.globalMax > 0 && len(t.global) >= t.globalMax {
		return false
	}
	if t.perSymbolMax > 0 && len(t.perSym[symbol]) >= t.perSymbolMax {
		return false
	}
	now := t.now()
	t.global = append(t.global, now)
	t.perSym[symbol] = append(t.perSym[symbol], now)
	return true
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// WeightCounter tracks exchange request weight consumed in the current
// minute. Workers share one instance; it is lock-free since every symbol
// draws from the same exchange-wide budget on the hot path.
type WeightCounter struct {
	capacity  int64
	threshold float64
	now       func() time.Time

	epoch atomic.Int64
	used  atomic.Int64
}

// NewWeightCounter reserves capacity weight units per minute; threshold is
// the fill fraction (e.g. 0.8) past which Add reports nearLimit.
func NewWeightCounter(capacity int64, threshold float64) *WeightCounter {
	return &WeightCounter{capacity: capacity, threshold: threshold, now: time.Now}
}

// Add consumes n weight units and returns the minute's running total plus
// whether the budget is close enough to exhausted that the caller should
// trigger a weight reservation.
func (w *WeightCounter) Add(n int64) (used int64, nearLimit bool) {
	minute := w.now().Unix() / 60
	if old := w.epoch.Load(); old != minute && w.epoch.CompareAndSwap(old, minute) {
		w.used.Store(0)
	}
	used = w.used.Add(n)
	return used, w.capacity > 0 && float64(used) >= w.threshold*float64(w.capacity)
}

// Used returns the weight consumed in the current minute.
func (w *WeightCounter) Used() int64 {
	minute := w.now().Unix() / 60
	if w.epoch.Load() != minute {
		return 0
	}
	return w.used.Load()
}
