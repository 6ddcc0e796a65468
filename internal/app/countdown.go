package app

import (
	"sync"
	"time"
)

// CountdownScheduler runs at most one question countdown per session code.
// It never blocks a caller: each countdown is a background ticker goroutine
// that reports remaining whole seconds and fires the expiry callback exactly
// once when the budget runs out.
type CountdownScheduler struct {
	interval time.Duration
	mu       sync.Mutex
	running  map[string]chan struct{}
}

func NewCountdownScheduler() *CountdownScheduler {
	return NewCountdownSchedulerWithInterval(time.Second)
}

// NewCountdownSchedulerWithInterval allows compressed ticks in tests.
func NewCountdownSchedulerWithInterval(interval time.Duration) *CountdownScheduler {
	return &CountdownScheduler{
		interval: interval,
		running:  make(map[string]chan struct{}),
	}
}

// Start begins a countdown of the given whole-second budget, replacing any
// countdown already running for the code. onTick receives the remaining
// seconds after each interval, clamped to zero; onExpire fires once when the
// countdown reaches zero, after which the countdown self-cancels.
func (c *CountdownScheduler) Start(code string, seconds int, onTick func(secondsLeft int), onExpire func()) {
	stop := make(chan struct{})
	c.mu.Lock()
	if prev, ok := c.running[code]; ok {
		close(prev)
	}
	c.running[code] = stop
	c.mu.Unlock()

	go c.run(code, seconds, stop, onTick, onExpire)
}

func (c *CountdownScheduler) run(code string, seconds int, stop chan struct{}, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	remaining := seconds
	for {
		select {
		case <-ticker.C:
			remaining--
			if remaining < 0 {
				remaining = 0
			}
			if onTick != nil {
				onTick(remaining)
			}
			if remaining == 0 {
				// Self-cancel before notifying so a countdown started from
				// within onExpire is not clobbered. A countdown that was
				// cancelled or replaced in the meantime must not fire expiry.
				c.mu.Lock()
				cur, ok := c.running[code]
				if !ok || cur != stop {
					c.mu.Unlock()
					return
				}
				delete(c.running, code)
				c.mu.Unlock()
				if onExpire != nil {
					onExpire()
				}
				return
			}
		case <-stop:
			return
		}
	}
}

// Cancel stops the countdown for a code. Idempotent; safe on unknown codes.
func (c *CountdownScheduler) Cancel(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stop, ok := c.running[code]; ok {
		close(stop)
		delete(c.running, code)
	}
}

// CancelAll stops every running countdown (shutdown path).
func (c *CountdownScheduler) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for code, stop := range c.running {
		close(stop)
		delete(c.running, code)
	}
}

// Active reports whether a countdown is running for the code.
func (c *CountdownScheduler) Active(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[code]
	return ok
}
