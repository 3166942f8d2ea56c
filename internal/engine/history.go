package engine

import (
	"sync"

	"github.com/roach88/livechat/internal/store"
)

// DefaultHistorySize is the number of recent commits kept for the
// missed-commit check.
const DefaultHistorySize = 1024

// history is a bounded ring of recent commits and the ranges they touched.
//
// Commits may be added slightly out of seq order (writers notify after
// releasing the store lock). floor is the highest seq ever evicted: a
// snapshot below it can no longer be checked precisely.
type history struct {
	mu      sync.Mutex
	entries []historyEntry
	next    int
	full    bool
	floor   int64
}

type historyEntry struct {
	seq     int64
	touched store.RangeSet
}

func newHistory(size int, floor int64) *history {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &history{
		entries: make([]historyEntry, size),
		floor:   floor,
	}
}

func (h *history) add(c store.Commit) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.full {
		h.floor = max(h.floor, h.entries[h.next].seq)
	}
	h.entries[h.next] = historyEntry{seq: c.Seq, touched: c.Touched}
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// touchedSince reports whether a commit newer than snapshot may have touched
// deps. It answers true when the ring no longer covers snapshot.
func (h *history) touchedSince(snapshot int64, deps store.RangeSet) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if snapshot < h.floor {
		return true
	}
	n := h.next
	if h.full {
		n = len(h.entries)
	}
	for i := 0; i < n; i++ {
		e := h.entries[i]
		if e.seq > snapshot && e.touched.Intersects(deps) {
			return true
		}
	}
	return false
}
