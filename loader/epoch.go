package loader

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Clock is the epoch treadmill that defers reclamation of retired
// generations. Every call checks in with Begin and out with End; retiring
// a module advances the global epoch and stamps the module with it. A
// retired generation is reclaimed only when it has no in-flight calls and
// no still-running call entered before the retirement, so a call started
// against the old generation never has its memory freed underneath it.
type Clock struct {
	epoch atomic.Uint64

	mu      sync.Mutex
	active  map[uint64]uint64
	nextID  uint64
	retired []*Module
}

// NewClock creates an epoch clock starting at epoch zero.
func NewClock() *Clock {
	return &Clock{active: make(map[uint64]uint64)}
}

// Ticket identifies one in-flight call to the clock.
type Ticket struct {
	id uint64
}

// Now returns the current epoch.
func (c *Clock) Now() uint64 { return c.epoch.Load() }

// Begin registers a call at the current epoch.
func (c *Clock) Begin() Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.active[id] = c.epoch.Load()
	return Ticket{id: id}
}

// End deregisters a call.
func (c *Clock) End(t Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, t.id)
}

// Retire advances the epoch, stamps the module with it and queues the
// module for deferred reclamation. The module stops accepting new calls
// immediately.
func (c *Clock) Retire(m *Module) uint64 {
	epoch := c.epoch.Add(1)
	m.retire(epoch)

	c.mu.Lock()
	c.retired = append(c.retired, m)
	c.mu.Unlock()
	return epoch
}

// Pending returns the number of retired generations awaiting reclamation.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retired)
}

// minActive returns the smallest entry epoch among in-flight calls.
// Callers hold c.mu.
func (c *Clock) minActive() (uint64, bool) {
	var min uint64
	found := false
	for _, e := range c.active {
		if !found || e < min {
			min = e
			found = true
		}
	}
	return min, found
}

// reclaimable reports whether a retired module can no longer be observed:
// nothing is inside it, and every running call started at or after the
// retirement epoch. Callers hold c.mu.
func (c *Clock) reclaimable(m *Module) bool {
	if m.Inflight() != 0 {
		return false
	}
	if min, ok := c.minActive(); ok && min < m.RetireEpoch() {
		return false
	}
	return true
}

// IsReclaimable reports whether a generation could be freed right now:
// it is retired, nothing is inside it, and every running call started at
// or after its retirement epoch. Reclaim frees exactly the generations
// this reports true for, so embedders can poll without side effects.
func (c *Clock) IsReclaimable(m *Module) bool {
	if !m.Retired() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reclaimable(m)
}

// Reclaim closes every retired generation that is provably unobservable
// and returns how many it freed. Safe to call from a poll loop.
func (c *Clock) Reclaim(ctx context.Context) (int, error) {
	c.mu.Lock()
	var ready []*Module
	remaining := c.retired[:0]
	for _, m := range c.retired {
		if c.reclaimable(m) {
			ready = append(ready, m)
		} else {
			remaining = append(remaining, m)
		}
	}
	c.retired = remaining
	c.mu.Unlock()

	var firstErr error
	for _, m := range ready {
		if err := m.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		Logger().Debug("reclaimed module generation",
			zap.String("path", m.Path()),
			zap.Uint64("generation", m.Generation()),
			zap.Uint64("retire_epoch", m.RetireEpoch()))
	}
	return len(ready), firstErr
}
