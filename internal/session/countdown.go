package session

import (
	"fmt"
	"sync"
	"time"
)

// Countdown is the per-session clock. It is owned by the engine, started once
// when the time limit is known, and ticks in its own goroutine so a pending
// network call never stalls it. A zero or negative time limit means
// unlimited: Start is a no-op and the expiry callback never fires.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	running   bool
	expired   bool
	stop      chan struct{}
	onExpire  func()

	// newTicker is swappable in tests for a hand-driven tick channel.
	newTicker func() (<-chan time.Time, func())
}

func NewCountdown() *Countdown {
	return &Countdown{
		newTicker: func() (<-chan time.Time, func()) {
			t := time.NewTicker(time.Second)
			return t.C, t.Stop
		},
	}
}

// OnExpire registers the callback fired once when the clock reaches zero.
// Must be set before Start.
func (c *Countdown) OnExpire(fn func()) {
	c.mu.Lock()
	c.onExpire = fn
	c.mu.Unlock()
}

// Start begins ticking down from the given number of seconds. Calling Start
// while already running is ignored; the clock is only restarted when the
// engine loads a new session.
func (c *Countdown) Start(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds <= 0 || c.running {
		return
	}
	c.remaining = seconds
	c.running = true
	c.expired = false
	c.stop = make(chan struct{})
	tick, cancel := c.newTicker()
	go c.run(tick, cancel, c.stop)
}

func (c *Countdown) run(tick <-chan time.Time, cancel func(), stop chan struct{}) {
	defer cancel()
	for {
		select {
		case <-stop:
			return
		case <-tick:
			if c.decrement() {
				return
			}
		}
	}
}

// decrement takes one second off the clock and reports whether the loop
// should exit. The expiry callback fires at most once, even if a manual
// submit races with the final tick.
func (c *Countdown) decrement() (done bool) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return true
	}
	c.remaining--
	if c.remaining > 0 {
		c.mu.Unlock()
		return false
	}
	c.remaining = 0
	c.running = false
	fire := !c.expired
	c.expired = true
	fn := c.onExpire
	c.mu.Unlock()

	if fire && fn != nil {
		fn()
	}
	return true
}

// Stop halts the clock without firing the expiry callback. Safe to call
// multiple times and after expiry; mandatory on engine teardown.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
}

func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// String renders the remaining time as zero-padded MM:SS.
func (c *Countdown) String() string { return FormatClock(c.Remaining()) }

func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
