package qrate

import (
	"context"
	"fmt"
	"sync"
)

// Future is a value that eventually resolves to results or fails with an
// error. It settles exactly once; later resolve or reject calls are ignored.
type Future struct {
	done    chan struct{}
	once    sync.Once
	results []any
	err     error
}

// NewFuture returns an unsettled Future together with the functions that
// settle it.
func NewFuture() (f *Future, resolve func(results ...any), reject func(err error)) {
	f = &Future{done: make(chan struct{})}
	resolve = func(results ...any) {
		f.settle(results, nil)
	}
	reject = func(err error) {
		if err == nil {
			err = ErrRejected
		}
		f.settle(nil, err)
	}
	return f, resolve, reject
}

// Go runs fn on a new goroutine and returns a Future for its outcome.
// A panic in fn rejects the Future with ErrWorkerPanic.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	f, resolve, reject := NewFuture()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reject(fmt.Errorf("%w: %v", ErrWorkerPanic, r))
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	}()
	return f
}

func (f *Future) settle(results []any, err error) {
	f.once.Do(func() {
		f.results = results
		f.err = err
		close(f.done)
	})
}

// Done is closed once the Future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the Future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) ([]any, error) {
	select {
	case <-f.done:
		return f.results, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then calls onResolve or onReject on a separate goroutine once the Future
// settles. Either may be nil.
func (f *Future) Then(onResolve func(results ...any), onReject func(err error)) {
	go func() {
		<-f.done
		if f.err != nil {
			if onReject != nil {
				onReject(f.err)
			}
			return
		}
		if onResolve != nil {
			onResolve(f.results...)
		}
	}()
}
