// Package countdown provides a recurring timer that can be paused and
// resumed without losing its place in the current period.
package countdown

import (
	"sync"
	"time"
)

// Timer calls fn once per period on its own goroutine.
//
// Pause stores the time left until the next fire; Resume re-arms for exactly
// that remainder, after which the timer continues with full periods.
type Timer struct {
	mu sync.Mutex

	period time.Duration
	fn     func()

	t         *time.Timer
	gen       uint64
	deadline  time.Time
	remaining time.Duration
	paused    bool
	started   bool
	stopped   bool
}

// New returns a stopped timer. Call Start to arm it.
func New(period time.Duration, fn func()) *Timer {
	if period <= 0 {
		period = time.Second
	}
	if fn == nil {
		fn = func() {}
	}
	return &Timer{period: period, fn: fn}
}

// Period returns the configured period.
func (t *Timer) Period() time.Duration { return t.period }

// Start arms the timer for a full period. It is a no-op once started.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return
	}
	t.started = true
	t.armLocked(t.period)
}

// Pause stops the countdown and remembers the time left. It returns that
// remainder and false if the timer was not running.
func (t *Timer) Pause() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.stopped || t.paused {
		return t.remaining, false
	}
	rem := time.Until(t.deadline)
	if rem < 0 {
		rem = 0
	}
	t.disarmLocked()
	t.remaining = rem
	t.paused = true
	return rem, true
}

// Resume re-arms a paused timer for the remembered remainder.
// It reports whether the timer was paused.
func (t *Timer) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused || t.stopped {
		return false
	}
	t.paused = false
	t.armLocked(t.remaining)
	t.remaining = 0
	return true
}

// Stop disarms the timer permanently.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.paused = false
	t.disarmLocked()
}

// Started reports whether Start was called.
func (t *Timer) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Paused reports whether the countdown is paused.
func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Stopped reports whether Stop was called.
func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Remaining returns the time until the next fire, or the stored remainder
// while paused.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.stopped || !t.started:
		return 0
	case t.paused:
		return t.remaining
	}
	rem := time.Until(t.deadline)
	if rem < 0 {
		rem = 0
	}
	return rem
}

func (t *Timer) armLocked(d time.Duration) {
	t.gen++
	gen := t.gen
	t.deadline = time.Now().Add(d)
	t.t = time.AfterFunc(d, func() { t.fire(gen) })
}

func (t *Timer) disarmLocked() {
	// Bumping gen makes an already-running callback a no-op.
	t.gen++
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.stopped || t.paused {
		t.mu.Unlock()
		return
	}
	t.armLocked(t.period)
	fn := t.fn
	t.mu.Unlock()

	fn()
}
