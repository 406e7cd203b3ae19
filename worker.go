package qrate

import "context"

// Callback receives the outcome of a task: a non-nil err on failure and any
// results the worker produced.
type Callback func(err error, results ...any)

func noopCallback(error, ...any) {}

// Worker processes one task and reports completion by calling done exactly
// once, either before returning or later from any goroutine. Calling done
// a second time panics with a ProtocolError.
//
// ctx is the queue's base context carrying the task's trace span. Kill does
// not cancel it.
type Worker[T any] func(ctx context.Context, task T, done Callback)

// batchWorker is the single shape the scheduler dispatches to.
type batchWorker[T any] func(ctx context.Context, batch []T, done Callback)

func adapt[T any](w Worker[T]) batchWorker[T] {
	return func(ctx context.Context, batch []T, done Callback) {
		// The queue dispatches exactly one task per call.
		w(ctx, batch[0], done)
	}
}

// Sync adapts a function that finishes before returning.
func Sync[T any](fn func(ctx context.Context, task T) (any, error)) Worker[T] {
	return func(ctx context.Context, task T, done Callback) {
		v, err := fn(ctx, task)
		if err != nil {
			done(err)
			return
		}
		done(nil, v)
	}
}

// FromFuture adapts a worker that reports completion through a Future. A
// nil Future completes the task immediately with no results.
func FromFuture[T any](fn func(ctx context.Context, task T) *Future) Worker[T] {
	return func(ctx context.Context, task T, done Callback) {
		f := fn(ctx, task)
		if f == nil {
			done(nil)
			return
		}
		f.Then(
			func(results ...any) { done(nil, results...) },
			func(err error) { done(err) },
		)
	}
}

// Async adapts a blocking function by running each task on its own
// goroutine.
func Async[T any](fn func(ctx context.Context, task T) (any, error)) Worker[T] {
	return FromFuture(func(ctx context.Context, task T) *Future {
		return Go(ctx, func(ctx context.Context) (any, error) { return fn(ctx, task) })
	})
}
