package alerting

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cooldown rate-limits an action per key: once acquired, a key stays blocked
// for the window. The zero window never blocks. Safe for concurrent use.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	clock  clockwork.Clock
	last   map[string]time.Time
}

// NewCooldown creates a Cooldown with the given window.
func NewCooldown(window time.Duration, clock clockwork.Clock) *Cooldown {
	return &Cooldown{
		window: window,
		clock:  clock,
		last:   make(map[string]time.Time),
	}
}

// TryAcquire records an action for key and returns true when the previous one
// is at least a window old. It returns false without recording otherwise.
func (c *Cooldown) TryAcquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

// Remaining returns how long key stays blocked, or 0 when it is free.
func (c *Cooldown) Remaining(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[key]
	if !ok {
		return 0
	}
	if left := c.window - c.clock.Since(last); left > 0 {
		return left
	}
	return 0
}

// Release forgets key so the next TryAcquire succeeds.
func (c *Cooldown) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}
