// Package dedup implements the per-consumer replay guard: a bounded
// FIFO set of recently-seen incident IDs with a retention window,
// consulted before every consumer callback.
package dedup

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Guard tracks recently-seen incident IDs for one consumer. A hit means
// the envelope is dropped before the callback with no side effects.
// Envelopes without an incident ID are always processed.
type Guard struct {
	mu         sync.Mutex
	maxEntries int
	window     time.Duration
	items      map[string]*list.Element
	order      *list.List // front = oldest, for FIFO eviction
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type seenEntry struct {
	id     string
	seenAt time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// NewGuard creates a guard holding at most maxEntries incident IDs,
// each retained for the given window. Non-positive arguments fall back
// to 4096 entries and 10 minutes.
func NewGuard(maxEntries int, window time.Duration, opts ...Option) *Guard {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	g := &Guard{
		maxEntries: maxEntries,
		window:     window,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShouldProcess reports whether the consumer callback should run for
// this incident. It returns false when the incident was seen within the
// retention window, and records first sightings. The empty incident ID
// always processes since no deduplication is possible.
func (g *Guard) ShouldProcess(incidentID string) bool {
	if incidentID == "" {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if el, exists := g.items[incidentID]; exists {
		entry := el.Value.(*seenEntry)
		if now.Sub(entry.seenAt) < g.window {
			g.hits.Add(1)
			return false
		}
		// Expired: treat the resend as a new occurrence window.
		entry.seenAt = now
		g.order.MoveToBack(el)
		g.misses.Add(1)
		return true
	}

	g.evictLocked(now)

	el := g.order.PushBack(&seenEntry{id: incidentID, seenAt: now})
	g.items[incidentID] = el
	g.misses.Add(1)
	return true
}

// evictLocked removes expired entries and, if the guard is still full,
// the oldest entry. Caller holds g.mu.
func (g *Guard) evictLocked(now time.Time) {
	for el := g.order.Front(); el != nil; {
		entry := el.Value.(*seenEntry)
		if now.Sub(entry.seenAt) < g.window {
			break
		}
		next := el.Next()
		g.order.Remove(el)
		delete(g.items, entry.id)
		el = next
	}

	for len(g.items) >= g.maxEntries {
		el := g.order.Front()
		if el == nil {
			break
		}
		entry := el.Value.(*seenEntry)
		g.order.Remove(el)
		delete(g.items, entry.id)
	}
}

// Len returns the number of tracked incident IDs.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.items)
}

// Hits returns the number of suppressed duplicate deliveries.
func (g *Guard) Hits() int64 {
	return g.hits.Load()
}

// Misses returns the number of first-time (processed) deliveries.
func (g *Guard) Misses() int64 {
	return g.misses.Load()
}
