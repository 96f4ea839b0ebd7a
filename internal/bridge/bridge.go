// Package bridge hands schedule snapshots from the background fetch
// goroutine to the single-threaded foreground consumer. One slot, last write
// wins; the lock covers only the pointer swap, never a render.
package bridge

import (
	"sync"

	"calbar/internal/model"
)

type Bridge struct {
	mu     sync.Mutex
	latest *model.Snapshot
	seen   bool
}

func New() *Bridge {
	return &Bridge{seen: true}
}

// Publish overwrites the slot with a fully-constructed snapshot. It never
// blocks the publisher beyond the pointer swap; an unpolled previous snapshot
// is simply superseded.
func (b *Bridge) Publish(s *model.Snapshot) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.latest = s
	b.seen = false
	b.mu.Unlock()
}

// Poll returns the latest snapshot exactly once. It reports false until a
// new snapshot arrives after the previous Poll.
func (b *Bridge) Poll() (*model.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen || b.latest == nil {
		return nil, false
	}
	b.seen = true
	return b.latest, true
}

// Latest returns the most recent snapshot regardless of whether it has been
// polled, or nil when nothing has ever been published. Used by read-only
// surfaces like the status API.
func (b *Bridge) Latest() *model.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}
