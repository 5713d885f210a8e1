package executor

import (
	"context"
	"sync"
	"time"
)

// Dedup is an in-memory event identity store with a time-to-live retention
// window. It backs the pipeline's duplicate suppression when no shared store
// is configured. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // idempotency key -> first seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that retains keys for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// MarkSeen records key and reports whether it was new within the retention
// window. A key seen again after its TTL expired counts as new.
func (d *Dedup) MarkSeen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if first, ok := d.seen[key]; ok && now.Sub(first) < d.ttl {
		return false, nil
	}
	d.seen[key] = now
	return true, nil
}

// Cleanup removes entries older than the TTL. Called periodically to prevent
// unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
