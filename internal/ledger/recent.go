package ledger

import (
	"strings"
	"sync"
	"time"
)

// RecentRequests remembers when an id was last accepted so that rapid
// resubmissions can be answered without side effects. It is memory only.
type RecentRequests struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

// NewRecentRequests builds a guard with the given window.
func NewRecentRequests(window time.Duration) *RecentRequests {
	return &RecentRequests{window: window, seen: make(map[string]time.Time)}
}

// Seen reports whether id was accepted within the window before now. When it
// was not, the id is recorded as accepted at now.
func (r *RecentRequests) Seen(id string, now time.Time) bool {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, at := range r.seen {
		if now.Sub(at) >= r.window {
			delete(r.seen, key)
		}
	}
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = now
	return false
}
