package qrate

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/glynnbird/qrate/internal/loop"
	"github.com/glynnbird/qrate/internal/tasklist"
	"github.com/glynnbird/qrate/pkg/eventbus"
	logx "github.com/glynnbird/qrate/pkg/logx"
)

// Task is one submitted unit of work.
type Task[T any] struct {
	ID   uint64
	Data T

	callback Callback
	elem     *tasklist.Element[*Task[T]] // in-flight handle
	started  time.Time
	span     trace.Span
}

type hooks[T any] struct {
	saturated   func()
	unsaturated func()
	empty       func()
	drain       func()
	err         func(err error, data T)
}

func noop() {}

func defaultHooks[T any]() hooks[T] {
	return hooks[T]{
		saturated:   noop,
		unsaturated: noop,
		empty:       noop,
		drain:       noop,
		err:         func(error, T) {},
	}
}

// Queue hands submitted tasks to a worker with at most Concurrency of them
// in flight, optionally capped to a number of dispatches per period.
//
// Scheduling (dispatch, completion bookkeeping, hooks and task callbacks)
// runs on a single internal goroutine at a time. Methods are safe for
// concurrent use.
//
// Kill discards pending work only. Tasks already handed to the worker are
// not cancelled; they run to completion and their callbacks still fire.
type Queue[T any] struct {
	name   string
	worker batchWorker[T]
	ctx    context.Context
	log    logx.Logger
	bus    eventbus.Bus
	inst   *instruments
	loop   *loop.Loop
	seq    atomic.Uint64

	saturatedLog rate.Sometimes

	mu               sync.Mutex
	concurrency      int
	buffer           float64
	paused           bool
	started          bool
	killed           bool
	numRunning       int
	tasks            *tasklist.List[*Task[T]]
	inFlight         *tasklist.List[*Task[T]]
	limiter          *tokenBucket
	processScheduled bool
	hooks            hooks[T]

	// loop only
	processing bool
}

// New returns a queue dispatching to worker.
func New[T any](worker Worker[T], opts ...Option) (*Queue[T], error) {
	if worker == nil {
		return nil, ErrNilWorker
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.concurrency < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, o.concurrency)
	}
	if o.rateSet && o.rateLimit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRateLimit, o.rateLimit)
	}

	q := &Queue[T]{
		name:         o.name,
		worker:       adapt(worker),
		ctx:          o.ctx,
		log:          o.log.With(logx.String("queue", o.name)),
		bus:          o.bus,
		inst:         newInstruments(o.name, o.meter, o.tracer),
		loop:         loop.New(),
		saturatedLog: rate.Sometimes{Interval: 5 * time.Second},
		concurrency:  o.concurrency,
		buffer:       float64(o.concurrency) / 4,
		tasks:        tasklist.New[*Task[T]](),
		inFlight:     tasklist.New[*Task[T]](),
		hooks:        defaultHooks[T](),
	}

	if o.rateSet {
		q.mu.Lock()
		q.limiter = newTokenBucket(o.rateLimit, o.ratePeriod, q.onTick)
		q.mu.Unlock()
	}

	q.log.Debug("queue created",
		logx.Int("concurrency", o.concurrency),
		logx.Int("rate_limit", o.rateLimit),
		logx.Duration("rate_period", o.ratePeriod),
	)
	return q, nil
}

// Name returns the label given with WithName.
func (q *Queue[T]) Name() string { return q.name }

// Pause stops new dispatches. Tasks already in flight keep running.
func (q *Queue[T]) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume allows dispatching again. It does nothing if the queue is not
// paused.
func (q *Queue[T]) Resume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	q.mu.Unlock()
	q.loop.Post(q.process)
}

// Kill drops every pending task without calling its callback, disables the
// drain hook and stops the rate limiter for good. Later submissions fail
// with ErrKilled.
func (q *Queue[T]) Kill() {
	q.mu.Lock()
	if q.killed {
		q.mu.Unlock()
		return
	}
	q.killed = true
	q.hooks.drain = noop
	dropped := q.tasks.Len()
	q.tasks.Clear()
	if q.limiter != nil {
		q.limiter.stopLocked()
	}
	running := q.numRunning
	q.mu.Unlock()

	q.log.Info("queue killed", logx.Int("dropped", dropped), logx.Int("running", running))
	q.publish(EventQueueKilled, TaskEvent{Queue: q.name, Running: running})
}

// Remove deletes every pending task for which pred returns true and
// reports how many were removed. Their callbacks are not called.
func (q *Queue[T]) Remove(pred func(*Task[T]) bool) int {
	if pred == nil {
		return 0
	}
	q.mu.Lock()
	pending := q.tasks.Values()
	q.mu.Unlock()

	doomed := make(map[*Task[T]]struct{})
	for _, t := range pending {
		if pred(t) {
			doomed[t] = struct{}{}
		}
	}
	if len(doomed) == 0 {
		return 0
	}

	q.mu.Lock()
	n := q.tasks.RemoveFunc(func(t *Task[T]) bool {
		_, ok := doomed[t]
		return ok
	})
	if n > 0 && q.tasks.Len() == 0 && q.limiter != nil {
		q.limiter.idleLocked(q.onRestore)
	}
	q.mu.Unlock()
	return n
}

// Length returns the number of pending tasks.
func (q *Queue[T]) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// Running returns the number of tasks in flight.
func (q *Queue[T]) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numRunning
}

// Idle reports whether nothing is pending or in flight.
func (q *Queue[T]) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idleLocked()
}

func (q *Queue[T]) idleLocked() bool { return q.tasks.Len()+q.numRunning == 0 }

// Paused reports whether Pause is in effect.
func (q *Queue[T]) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Started reports whether anything has been submitted, including an empty
// batch.
func (q *Queue[T]) Started() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

// Killed reports whether Kill has been called.
func (q *Queue[T]) Killed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.killed
}

// WorkersList returns the tasks currently in flight in dispatch order.
func (q *Queue[T]) WorkersList() []*Task[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight.Values()
}

// Tasks iterates the pending tasks in dispatch order. The sequence is taken
// from a snapshot when iteration starts.
func (q *Queue[T]) Tasks() iter.Seq[*Task[T]] {
	return func(yield func(*Task[T]) bool) {
		q.mu.Lock()
		pending := q.tasks.Values()
		q.mu.Unlock()
		for _, t := range pending {
			if !yield(t) {
				return
			}
		}
	}
}

// Concurrency returns the in-flight limit.
func (q *Queue[T]) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

// SetConcurrency changes the in-flight limit. Lowering it never interrupts
// running tasks; dispatch simply waits until the count falls below n.
func (q *Queue[T]) SetConcurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, n)
	}
	q.mu.Lock()
	q.concurrency = n
	q.mu.Unlock()
	q.loop.Post(q.process)
	return nil
}

// Buffer returns the unsaturated threshold. It defaults to a quarter of the
// initial concurrency.
func (q *Queue[T]) Buffer() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buffer
}

// SetBuffer changes the unsaturated threshold. Negative values are
// rejected with ErrInvalidBuffer.
func (q *Queue[T]) SetBuffer(b float64) error {
	if b < 0 {
		return fmt.Errorf("%w: got %g", ErrInvalidBuffer, b)
	}
	q.mu.Lock()
	q.buffer = b
	q.mu.Unlock()
	return nil
}

// OnSaturated is called when a dispatch brings the in-flight count up to
// the concurrency limit.
func (q *Queue[T]) OnSaturated(fn func()) { q.setHook(&q.hooks.saturated, fn) }

// OnUnsaturated is called after a completion leaves at most
// Concurrency-Buffer tasks in flight.
func (q *Queue[T]) OnUnsaturated(fn func()) { q.setHook(&q.hooks.unsaturated, fn) }

// OnEmpty is called when a dispatch takes the last pending task. Tasks may
// still be in flight.
func (q *Queue[T]) OnEmpty(fn func()) { q.setHook(&q.hooks.empty, fn) }

// OnDrain is called when the queue becomes idle.
func (q *Queue[T]) OnDrain(fn func()) { q.setHook(&q.hooks.drain, fn) }

// OnError is called after a failed task's own callback.
func (q *Queue[T]) OnError(fn func(err error, data T)) {
	if fn == nil {
		fn = func(error, T) {}
	}
	q.mu.Lock()
	q.hooks.err = fn
	q.mu.Unlock()
}

func (q *Queue[T]) setHook(slot *func(), fn func()) {
	if fn == nil {
		fn = noop
	}
	q.mu.Lock()
	*slot = fn
	q.mu.Unlock()
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Name        string  `json:"name"`
	Concurrency int     `json:"concurrency"`
	Buffer      float64 `json:"buffer"`
	Running     int     `json:"running"`
	Pending     int     `json:"pending"`
	Paused      bool    `json:"paused"`
	Started     bool    `json:"started"`
	Killed      bool    `json:"killed"`
	RateLimit   int     `json:"rate_limit,omitempty"`
	Tokens      int     `json:"tokens,omitempty"`
}

func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Name:        q.name,
		Concurrency: q.concurrency,
		Buffer:      q.buffer,
		Running:     q.numRunning,
		Pending:     q.tasks.Len(),
		Paused:      q.paused,
		Started:     q.started,
		Killed:      q.killed,
	}
	if q.limiter != nil {
		s.RateLimit = q.limiter.capacity
		s.Tokens = q.limiter.tokens
	}
	return s
}
