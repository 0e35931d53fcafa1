package sources

import (
	"sync"
	"time"
)

// throttler runs fn at most once per interval. The first trigger runs
// immediately; triggers during the following interval are folded into a
// single trailing run.
type throttler struct {
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool
}

// newThrottler mirrors lodash throttle with leading and trailing both on:
// the first call runs at once, a burst during the wait collapses into one
// call when the interval ends.
func newThrottler(interval time.Duration, fn func()) *throttler {
	return &throttler{interval: interval, fn: fn}
}

func (t *throttler) Trigger() {
	if t.interval <= 0 {
		t.fn()
		return
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.pending = true
		t.mu.Unlock()
		return
	}
	t.timer = time.AfterFunc(t.interval, t.tick)
	t.mu.Unlock()

	t.fn()
}

func (t *throttler) tick() {
	t.mu.Lock()
	if !t.pending || t.stopped {
		t.timer = nil
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = time.AfterFunc(t.interval, t.tick)
	t.mu.Unlock()

	t.fn()
}

// Stop drops any pending trailing run.
func (t *throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
