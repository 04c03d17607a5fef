package service

import (
	"sync"
	"time"
)

// Countdown keeps one cancellable timer per session in this process.
type Countdown struct {
	mu     sync.Mutex
	timers map[string]*countdownTimer
}

type countdownTimer struct {
	timer *time.Timer
}

// NewCountdown returns an empty scheduler.
func NewCountdown() *Countdown {
	return &Countdown{timers: make(map[string]*countdownTimer)}
}

// Start arms fire to run after d, replacing any timer already armed for id.
func (c *Countdown) Start(id string, d time.Duration, fire func()) {
	entry := &countdownTimer{}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.timers[id]; ok {
		old.timer.Stop()
	}
	entry.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		current, ok := c.timers[id]
		if !ok || current != entry {
			c.mu.Unlock()
			return
		}
		delete(c.timers, id)
		c.mu.Unlock()
		fire()
	})
	c.timers[id] = entry
}

// Cancel stops the timer of id. It reports whether a pending timer was
// stopped before firing.
func (c *Countdown) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.timers[id]
	if !ok {
		return false
	}
	delete(c.timers, id)
	return entry.timer.Stop()
}

// Pending returns the number of armed timers.
func (c *Countdown) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// StopAll disarms every timer.
func (c *Countdown) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.timers {
		entry.timer.Stop()
		delete(c.timers, id)
	}
}
