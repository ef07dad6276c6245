package sink

import (
	"sync"
	"time"
)

// DefaultHistoryLimit caps the number of entries a history query returns.
const DefaultHistoryLimit = 1000

// History keeps the most recent log events in memory for dashboards that
// connect late.
type History struct {
	mu    sync.RWMutex
	ring  []LogEvent
	next  int
	count int
}

// NewHistory creates a History holding at most size events.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{ring: make([]LogEvent, size)}
}

// PublishLog records ev, evicting the oldest entry when full.
func (h *History) PublishLog(ev LogEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = ev
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
}

// PublishRelayMessage is a no-op; relay traffic is already mirrored as log events.
func (h *History) PublishRelayMessage(RelayMessage) {}

// Len returns the number of stored events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Query returns events whose ServerTime lies within [from, to], newest
// first, at most limit entries. A zero from or to leaves that side open;
// limit <= 0 uses DefaultHistoryLimit.
func (h *History) Query(from, to time.Time, limit int) []LogEvent {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]LogEvent, 0, min(limit, h.count))
	for i := 1; i <= h.count && len(out) < limit; i++ {
		ev := h.ring[(h.next-i+len(h.ring))%len(h.ring)]
		if !from.IsZero() && ev.ServerTime.Before(from) {
			continue
		}
		if !to.IsZero() && ev.ServerTime.After(to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
