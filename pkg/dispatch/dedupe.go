package dispatch

import (
	"sync"
	"time"
)

const (
	// dedupeRetention is how long a handled interaction ID is remembered.
	// The gateway delivers at least once; re-deliveries land well inside this
	// window.
	dedupeRetention = 15 * time.Minute

	// maxDedupeEntries bounds the cache so a busy process cannot grow it
	// without limit.
	maxDedupeEntries = 10000
)

// Deduper reserves interaction IDs so each one is handled at most once
// within a bounded retention window.
type Deduper struct {
	mu        sync.Mutex
	handled   map[string]time.Time
	retention time.Duration
}

// NewDeduper creates a new interaction deduper.
func NewDeduper() *Deduper {
	return &Deduper{
		handled:   make(map[string]time.Time),
		retention: dedupeRetention,
	}
}

// Acquire reserves the interaction ID and reports whether the caller won the
// reservation. Two simultaneous deliveries of the same ID race to a single
// winner; the loser must not run the handler.
func (d *Deduper) Acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.handled[id]
	if ok && time.Since(at) <= d.retention {
		return false
	}

	d.prune()
	d.handled[id] = time.Now()
	return true
}

// Release frees a reservation whose handler did not succeed, so a
// re-delivery of the interaction stays retryable.
func (d *Deduper) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.handled, id)
}

// prune drops expired entries, and the oldest entries when the cache is at
// its size bound. Caller must hold the lock.
func (d *Deduper) prune() {
	now := time.Now()
	for id, at := range d.handled {
		if now.Sub(at) > d.retention {
			delete(d.handled, id)
		}
	}

	for len(d.handled) >= maxDedupeEntries {
		var oldestID string
		var oldest time.Time
		for id, at := range d.handled {
			if oldestID == "" || at.Before(oldest) {
				oldestID = id
				oldest = at
			}
		}
		delete(d.handled, oldestID)
	}
}
