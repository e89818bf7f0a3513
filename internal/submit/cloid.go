package submit

import (
	"fmt"
	"sync/atomic"
	"time"
)

// CloidGen issues process-unique 128-bit client order ids: millisecond
// timestamp in the high half, a monotonic counter in the low half. One
// instance is shared by every symbol worker; Seed restores the counter
// across restarts so ids are never reused.
type CloidGen struct {
	counter atomic.Int64
	now     func() time.Time
}

func NewCloidGen() *CloidGen {
	return &CloidGen{now: time.Now}
}

func (g *CloidGen) Seed(n int64) {
	if n > g.counter.Load() {
		g.counter.Store(n)
	}
}

func (g *CloidGen) Counter() int64 { return g.counter.Load() }

func (g *CloidGen) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("0x%016x%016x", uint64(g.now().UnixMilli()), uint64(n))
}
