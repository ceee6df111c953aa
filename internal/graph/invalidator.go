package graph

import (
	"sync"
	"time"
)

// debounceWindow coalesces bursts of writes into at most one
// invalidation per window.
const debounceWindow = 2 * time.Second

// Invalidator debounces cache invalidation. It is a two-state machine:
// idle, where a trigger past the window runs immediately, and armed,
// where a trigger inside the window is deferred until the next trigger
// after the window or an explicit Flush.
//
// Wire Trigger to store.OnMutate and call Flush at end of session.
type Invalidator struct {
	cache *Cache

	mu     sync.Mutex
	anchor time.Time
	armed  bool
	now    func() time.Time
}

// NewInvalidator creates an Invalidator over the cache.
func NewInvalidator(cache *Cache) *Invalidator {
	return &Invalidator{cache: cache, now: time.Now}
}

// Trigger schedules an invalidation. Within the debounce window it only
// arms the pending flag; otherwise it invalidates immediately and moves
// the anchor.
func (iv *Invalidator) Trigger() {
	iv.mu.Lock()
	now := iv.now()
	if now.Sub(iv.anchor) < debounceWindow {
		iv.armed = true
		iv.mu.Unlock()
		return
	}
	iv.anchor = now
	iv.armed = false
	iv.mu.Unlock()

	iv.cache.Invalidate()
}

// Flush runs any armed invalidation synchronously. Sessions call this
// on exit so the last burst of writes is never lost.
func (iv *Invalidator) Flush() {
	iv.mu.Lock()
	if !iv.armed {
		iv.mu.Unlock()
		return
	}
	iv.armed = false
	iv.anchor = iv.now()
	iv.mu.Unlock()

	iv.cache.Invalidate()
}

// Armed reports whether an invalidation is pending.
func (iv *Invalidator) Armed() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.armed
}
