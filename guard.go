package qrate

import "sync/atomic"

// guard wraps a completion handler so it runs at most once. Any further
// call panics with a ProtocolError.
type guard struct {
	taskID uint64
	called atomic.Bool
	fn     Callback
}

func newGuard(taskID uint64, fn Callback) *guard {
	return &guard{taskID: taskID, fn: fn}
}

func (g *guard) call(err error, results ...any) {
	if !g.called.CompareAndSwap(false, true) {
		panic(&ProtocolError{TaskID: g.taskID, Err: ErrCallbackReused})
	}
	g.fn(err, results...)
}

func (g *guard) fired() bool { return g.called.Load() }
