package submit

import "sync"

// History is the append-only audit ring buffer. Oldest entries fall off past
// the cap. It is shared across workers, hence the lock; Record is off the
// hot path (terminal outcomes only).
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	next    int
	full    bool
}

func NewHistory(capEntries int) *History {
	if capEntries <= 0 {
		capEntries = 1000
	}
	return &History{entries: make([]HistoryEntry, capEntries)}
}

func (h *History) Record(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Entries returns a copy, oldest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]HistoryEntry, h.next)
		copy(out, h.entries[:h.next])
		return out
	}
	out := make([]HistoryEntry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	out = append(out, h.entries[:h.next]...)
	return out
}

// MultiRecorder fans one terminal outcome out to several sinks.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(e HistoryEntry) {
	for _, r := range m {
		r.Record(e)
	}
}
