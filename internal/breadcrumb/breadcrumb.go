// Package breadcrumb keeps a bounded trail of recent user and app actions,
// attached to crash reports for post-mortem context.
package breadcrumb

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCapacity bounds the trail when no explicit capacity is given.
const DefaultCapacity = 50

// Crumb is one recorded action.
type Crumb struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Category  string    `json:"category"`
}

// Ring records crumbs in insertion order, evicting the oldest once full.
// Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	clock clockwork.Clock
	max   int
	buf   []Crumb
}

// NewRing returns a ring holding at most capacity crumbs. A non-positive
// capacity selects DefaultCapacity; a nil clock selects the wall clock.
func NewRing(capacity int, clock clockwork.Clock) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ring{clock: clock, max: capacity}
}

// Add records one crumb stamped with the current time.
func (r *Ring) Add(action, category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Crumb{Timestamp: r.clock.Now(), Action: action, Category: category}
	if len(r.buf) < r.max {
		r.buf = append(r.buf, c)
		return
	}
	copy(r.buf, r.buf[1:])
	r.buf[len(r.buf)-1] = c
}

// Snapshot returns a copy of the trail, oldest first.
func (r *Ring) Snapshot() []Crumb {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Crumb, len(r.buf))
	copy(out, r.buf)
	return out
}

// Len reports the number of recorded crumbs.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Clear drops the whole trail.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
}
