package monitor

import (
	"sync"
	"time"

	"github.com/anstrom/netscope/internal/aggregate"
)

// Entry is one monitor run as kept in history.
type Entry struct {
	Tick      int                  `json:"tick"`
	Due       time.Time            `json:"due"`
	Record    *aggregate.RunRecord `json:"record"`
	Anomalies []Anomaly            `json:"anomalies,omitempty"`
}

// History is a fixed-capacity ring of entries; the oldest is evicted first.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	size    int
}

// NewHistory creates a ring holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{entries: make([]Entry, capacity)}
}

// Add appends an entry, evicting the oldest when full.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := (h.head + h.size) % len(h.entries)
	h.entries[idx] = e
	if h.size < len(h.entries) {
		h.size++
		return
	}
	h.head = (h.head + 1) % len(h.entries)
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.entries)
}

// Snapshot returns the entries oldest first.
func (h *History) Snapshot() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.entries[(h.head+i)%len(h.entries)]
	}
	return out
}

// Last returns the newest entry.
func (h *History) Last() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return Entry{}, false
	}
	return h.entries[(h.head+h.size-1)%len(h.entries)], true
}
