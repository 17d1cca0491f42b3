package retry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Gate tracks consecutive delivery failures and decides when the next
// automatic flush may run. Manual flushes are expected to skip the gate;
// only timer and threshold triggers consult it.
type Gate struct {
	policy Policy
	clock  clockwork.Clock

	mu       sync.Mutex
	failures int
	notUntil time.Time
}

// NewGate returns an open gate. A nil clock selects the wall clock.
func NewGate(policy Policy, clock clockwork.Clock) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{policy: policy, clock: clock}
}

// Allow reports whether an automatic flush may run now.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.clock.Now().Before(g.notUntil)
}

// Failure records a failed delivery and pushes the next eligible time out
// by the policy delay.
func (g *Gate) Failure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	g.notUntil = g.clock.Now().Add(g.policy.Delay(g.failures))
}

// Success reopens the gate and resets the failure count.
func (g *Gate) Success() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.notUntil = time.Time{}
}

// Failures returns the current consecutive failure count.
func (g *Gate) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}
