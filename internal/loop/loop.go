// Package loop runs deferred functions one at a time, in the order they
// were posted.
//
// A Loop owns no long-lived goroutine: the first Post onto an idle loop
// starts a drainer which exits again once the FIFO is empty. At most one
// drainer exists at any time, so everything posted to a Loop executes on a
// single logical thread.
package loop

import "sync"

// Loop is a serial executor. The zero value is ready to use.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	running bool
	idle    *sync.Cond
}

// New returns an empty loop.
func New() *Loop { return &Loop{} }

// Post schedules fn to run after everything already posted. It never
// blocks and is safe to call from inside a running function.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go l.drain()
}

// Pending returns the number of functions waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Wait blocks until the loop has nothing left to run. It must not be
// called from a posted function.
func (l *Loop) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.running {
		l.cond().Wait()
	}
}

func (l *Loop) cond() *sync.Cond {
	if l.idle == nil {
		l.idle = sync.NewCond(&l.mu)
	}
	return l.idle
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			l.cond().Broadcast()
			l.mu.Unlock()
			return
		}
		fn := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		l.mu.Unlock()

		fn()
	}
}
