package mcp

import (
	"sync"
	"time"
)

// cooldown spaces out repeated invocations of an expensive operation. It is
// in-memory and per-process; the orchestrator's own single-flight guard is
// the hard gate, this only stops back-to-back emergency runs.
type cooldown struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
	now    func() time.Time
}

func newCooldown(window time.Duration) *cooldown {
	return &cooldown{window: window, now: time.Now}
}

// Acquire records an invocation unless one happened within the window. It
// returns the time left when refused.
func (c *cooldown) Acquire(force bool) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !force && !c.last.IsZero() {
		if elapsed := now.Sub(c.last); elapsed < c.window {
			return false, c.window - elapsed
		}
	}
	c.last = now
	return true, 0
}

// Release forgets the last invocation so a failed attempt can be retried.
func (c *cooldown) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = time.Time{}
}
