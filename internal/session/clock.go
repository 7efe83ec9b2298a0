package session

import (
	"sync"
	"time"
)

// Clock is a monotonic countdown for one timed attempt. It ticks once per
// second with the remaining whole seconds (never negative) and fires Expired
// exactly once when the deadline passes. Untimed attempts simply never
// construct one.
type Clock struct {
	duration time.Duration
	interval time.Duration

	ticks   chan int
	expired chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	deadline time.Time
	stopped  bool
}

// NewClock creates a countdown of the given duration. The countdown does not
// run until Start is called.
func NewClock(duration time.Duration) *Clock {
	return &Clock{
		duration: duration,
		interval: time.Second,
		ticks:    make(chan int, 1),
		expired:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Ticks delivers the remaining seconds once per second. The channel is
// closed when the clock stops or expires.
func (c *Clock) Ticks() <-chan int { return c.ticks }

// Expired is closed exactly once when the countdown reaches zero. It never
// fires for a stopped clock.
func (c *Clock) Expired() <-chan struct{} { return c.expired }

// Start begins the countdown, measured from this moment. Starting twice is
// a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.stopped || !c.deadline.IsZero() {
		c.mu.Unlock()
		return
	}
	// The deadline is fixed here; every tick recomputes against it so the
	// countdown cannot drift.
	c.deadline = time.Now().Add(c.duration)
	c.mu.Unlock()

	go c.run()
}

// Remaining returns the whole seconds left, floored at zero. Before Start it
// returns the full duration.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	if deadline.IsZero() {
		return int(c.duration / time.Second)
	}
	left := time.Until(deadline)
	if left < 0 {
		return 0
	}
	return int(left.Round(time.Second) / time.Second)
}

// Stop cancels the countdown. No ticks or expiry are delivered afterward.
// Stopping twice, or stopping after expiry, is a no-op.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.done)
}

func (c *Clock) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.ticks)

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			remaining := c.Remaining()
			if remaining <= 0 {
				c.mu.Lock()
				alreadyStopped := c.stopped
				c.stopped = true
				c.mu.Unlock()
				if !alreadyStopped {
					close(c.expired)
				}
				return
			}
			// Drop the tick if the consumer is behind; the next tick
			// recomputes from the deadline so nothing accumulates.
			select {
			case c.ticks <- remaining:
			default:
			}
		}
	}
}
