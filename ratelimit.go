package qrate

import (
	"time"

	"github.com/glynnbird/qrate/internal/countdown"
)

// tokenBucket allows capacity dispatches per period. Tokens are reset to
// capacity on every tick rather than accumulated.
//
// All methods except construction are called with the queue mutex held.
type tokenBucket struct {
	capacity int
	tokens   int
	timer    *countdown.Timer

	// restore refills the bucket once the paused period would have
	// elapsed, so a burst arriving after an idle spell is not starved.
	restore    *time.Timer
	restoreGen uint64
	stopped    bool
}

// newTokenBucket returns a full bucket. Its refill timer is not armed until
// the first wakeLocked, so an unused queue never wakes up.
func newTokenBucket(capacity int, period time.Duration, onTick func()) *tokenBucket {
	return &tokenBucket{
		capacity: capacity,
		tokens:   max(1, capacity),
		timer:    countdown.New(period, onTick),
	}
}

func (b *tokenBucket) allowLocked() bool { return !b.stopped && b.tokens >= 1 }

func (b *tokenBucket) takeLocked() {
	if b.tokens > 0 {
		b.tokens--
	}
}

func (b *tokenBucket) refillLocked() {
	if b.stopped {
		return
	}
	b.tokens = b.capacity
}

// idleLocked pauses the refill timer while the backlog is empty and arms
// the restore safeguard for the remainder of the current period. onRestore
// runs on the timer goroutine with the generation it must match.
func (b *tokenBucket) idleLocked(onRestore func(gen uint64)) {
	if b.stopped {
		return
	}
	rem, ok := b.timer.Pause()
	if !ok {
		return
	}
	b.disarmRestoreLocked()
	gen := b.restoreGen
	b.restore = time.AfterFunc(rem, func() { onRestore(gen) })
}

// restoreLocked applies a safeguard refill if it is still current.
func (b *tokenBucket) restoreLocked(gen uint64) bool {
	if b.stopped || gen != b.restoreGen {
		return false
	}
	b.restore = nil
	b.tokens = b.capacity
	return true
}

// wakeLocked arms the refill timer on the first submission and resumes a
// paused one afterwards.
func (b *tokenBucket) wakeLocked() {
	if b.stopped {
		return
	}
	if b.timer.Resume() {
		b.disarmRestoreLocked()
		return
	}
	b.timer.Start()
}

func (b *tokenBucket) stopLocked() {
	if b.stopped {
		return
	}
	b.stopped = true
	b.timer.Stop()
	b.disarmRestoreLocked()
}

func (b *tokenBucket) disarmRestoreLocked() {
	b.restoreGen++
	if b.restore != nil {
		b.restore.Stop()
		b.restore = nil
	}
}
