package qrate

import (
	"fmt"
	"time"

	logx "github.com/glynnbird/qrate/pkg/logx"
)

// admission is what one successful admission step must report once the
// mutex is released.
type admission[T any] struct {
	hooks     hooks[T]
	empty     bool
	saturated bool
	running   int
	pending   int
}

// process dispatches pending tasks while capacity and tokens allow. It only
// runs on the loop. Completions are posted back to the loop instead of
// recursing, so a run of synchronously completing workers cannot grow the
// stack.
func (q *Queue[T]) process() {
	if q.processing {
		return
	}
	q.processing = true
	defer func() { q.processing = false }()

	for {
		t, a, ok := q.admit()
		if !ok {
			return
		}
		if a.empty {
			a.hooks.empty()
			q.publish(EventQueueEmpty, TaskEvent{Queue: q.name, Running: a.running})
		}
		if a.saturated {
			q.saturatedLog.Do(func() {
				q.log.Info("queue saturated", logx.Int("running", a.running), logx.Int("pending", a.pending))
			})
			a.hooks.saturated()
			q.publish(EventQueueSaturated, TaskEvent{Queue: q.name, Running: a.running, Pending: a.pending})
		}
		q.dispatch(t, a)
	}
}

// admit moves the next pending task in flight if nothing forbids it.
func (q *Queue[T]) admit() (*Task[T], admission[T], bool) {
	var a admission[T]

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || q.killed || q.numRunning >= q.concurrency || q.tasks.Len() == 0 {
		return nil, a, false
	}
	if q.limiter != nil && !q.limiter.allowLocked() {
		return nil, a, false
	}

	t, _ := q.tasks.PopFront()
	q.numRunning++
	t.elem = q.inFlight.PushBack(t)
	if q.limiter != nil {
		q.limiter.takeLocked()
	}

	if q.tasks.Len() == 0 {
		a.empty = true
		if q.limiter != nil {
			q.limiter.idleLocked(q.onRestore)
		}
	}
	a.saturated = q.numRunning == q.concurrency
	a.running = q.numRunning
	a.pending = q.tasks.Len()
	a.hooks = q.hooks
	return t, a, true
}

func (q *Queue[T]) dispatch(t *Task[T], a admission[T]) {
	ctx, span := q.inst.taskStarted(q.ctx, t.ID)
	t.span = span
	t.started = time.Now()

	q.log.Debug("task dispatched", logx.Uint64("task", t.ID), logx.Int("running", a.running))
	q.publish(EventTaskStarted, TaskEvent{Queue: q.name, TaskID: t.ID, Data: t.Data, Running: a.running, Pending: a.pending})

	g := newGuard(t.ID, func(err error, results ...any) {
		q.loop.Post(func() { q.complete(t, err, results) })
	})

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if IsProtocolError(r) || g.fired() {
			q.log.Error("worker broke the completion contract", logx.Uint64("task", t.ID), logx.Any("panic", r))
			panic(r)
		}
		q.log.Error("worker panicked", logx.Uint64("task", t.ID), logx.Any("panic", r))
		g.call(fmt.Errorf("%w: %v", ErrWorkerPanic, r))
	}()

	q.worker(ctx, []T{t.Data}, g.call)
}

// complete is the bookkeeping for one finished task. It only runs on the
// loop.
func (q *Queue[T]) complete(t *Task[T], err error, results []any) {
	q.mu.Lock()
	q.numRunning--
	q.inFlight.Remove(t.elem)
	t.elem = nil
	q.mu.Unlock()

	elapsed := time.Since(t.started)
	q.inst.taskFinished(q.ctx, t.span, elapsed, err)
	t.span = nil

	if err != nil {
		q.log.Debug("task failed", logx.Uint64("task", t.ID), logx.Duration("elapsed", elapsed), logx.Err(err))
	} else {
		q.log.Debug("task finished", logx.Uint64("task", t.ID), logx.Duration("elapsed", elapsed))
	}

	t.callback(err, results...)

	// Hooks are read after the callback, which may have replaced them.
	q.mu.Lock()
	onErr := q.hooks.err
	q.mu.Unlock()

	ev := TaskEvent{Queue: q.name, TaskID: t.ID, Data: t.Data, Err: err, Elapsed: elapsed}
	if err != nil {
		onErr(err, t.Data)
		q.publish(EventTaskFailed, ev)
	} else {
		q.publish(EventTaskFinished, ev)
	}

	q.mu.Lock()
	unsaturated := float64(q.numRunning) <= float64(q.concurrency)-q.buffer
	idle := q.idleLocked()
	killed := q.killed
	running := q.numRunning
	h := q.hooks
	q.mu.Unlock()

	if unsaturated {
		h.unsaturated()
		q.publish(EventQueueUnsaturated, TaskEvent{Queue: q.name, Running: running})
	}
	if idle {
		h.drain()
		if !killed {
			q.publish(EventQueueDrain, TaskEvent{Queue: q.name})
		}
	}
	q.process()
}

// onTick runs on the refill timer's goroutine.
func (q *Queue[T]) onTick() {
	q.loop.Post(func() {
		q.mu.Lock()
		q.limiter.refillLocked()
		q.mu.Unlock()
		q.process()
	})
}

// onRestore runs on the restore safeguard's goroutine.
func (q *Queue[T]) onRestore(gen uint64) {
	q.loop.Post(func() {
		q.mu.Lock()
		ok := q.limiter.restoreLocked(gen)
		q.mu.Unlock()
		if ok {
			q.process()
		}
	})
}
