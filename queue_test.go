package qrate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errTask = errors.New("task error")

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func waitClosed(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatalf("timed out after %s", d)
	}
}

// drained returns a channel closed on the first drain.
func drained[T any](q *Queue[T]) <-chan struct{} {
	ch := make(chan struct{})
	var once sync.Once
	q.OnDrain(func() { once.Do(func() { close(ch) }) })
	return ch
}

// delayed completes each task after delays[task] with err and the given
// result.
func delayed(rec *recorder, delays map[int]time.Duration, err error, result func(int) any) Worker[int] {
	return func(_ context.Context, task int, done Callback) {
		time.AfterFunc(delays[task], func() {
			rec.add("process %d", task)
			done(err, result(task))
		})
	}
}

func mustNew[T any](t *testing.T, w Worker[T], opts ...Option) *Queue[T] {
	t.Helper()
	q, err := New(w, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(q.Kill)
	return q
}

func TestBasics(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	// worker1: 1 (80ms) then 4 (20ms); worker2: 2 (20ms) then 3 (120ms).
	delays := map[int]time.Duration{1: 80 * time.Millisecond, 2: 20 * time.Millisecond, 3: 120 * time.Millisecond, 4: 20 * time.Millisecond}
	q := mustNew(t, delayed(rec, delays, errTask, func(int) any { return "arg" }), WithConcurrency(2))
	done := drained(q)

	wantLen := map[int]int{1: 1, 2: 2, 3: 0, 4: 0}
	for i := 1; i <= 4; i++ {
		if err := q.Push(i, func(err error, results ...any) {
			if !errors.Is(err, errTask) {
				t.Errorf("task %d: err = %v", i, err)
			}
			if len(results) != 1 || results[0] != "arg" {
				t.Errorf("task %d: results = %v", i, results)
			}
			if got := q.Length(); got != wantLen[i] {
				t.Errorf("task %d: Length = %d, want %d", i, got, wantLen[i])
			}
			rec.add("callback %d", i)
		}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if q.Concurrency() != 2 {
		t.Fatalf("Concurrency = %d", q.Concurrency())
	}

	waitClosed(t, done, 2*time.Second)
	want := []string{
		"process 2", "callback 2",
		"process 1", "callback 1",
		"process 4", "callback 4",
		"process 3", "callback 3",
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if q.Length() != 0 || q.Running() != 0 {
		t.Fatalf("after drain Length=%d Running=%d", q.Length(), q.Running())
	}
}

func TestDefaultConcurrency(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	delays := map[int]time.Duration{1: 40 * time.Millisecond, 2: 10 * time.Millisecond, 3: 60 * time.Millisecond, 4: 10 * time.Millisecond}
	q := mustNew(t, delayed(rec, delays, errTask, func(int) any { return "arg" }))
	done := drained(q)

	if q.Concurrency() != 1 {
		t.Fatalf("default Concurrency = %d", q.Concurrency())
	}
	for i := 1; i <= 4; i++ {
		_ = q.Push(i, func(err error, _ ...any) {
			if got, want := q.Length(), 4-i; got != want {
				t.Errorf("task %d: Length = %d, want %d", i, got, want)
			}
			rec.add("callback %d", i)
		})
	}

	waitClosed(t, done, 2*time.Second)
	want := []string{
		"process 1", "callback 1",
		"process 2", "callback 2",
		"process 3", "callback 3",
		"process 4", "callback 4",
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestNewRejectsInvalidArguments(t *testing.T) {
	t.Parallel()
	ok := func(_ context.Context, _ int, done Callback) { done(nil) }
	cases := []struct {
		name   string
		worker Worker[int]
		opts   []Option
		want   error
	}{
		{"zero concurrency", ok, []Option{WithConcurrency(0)}, ErrInvalidConcurrency},
		{"negative concurrency", ok, []Option{WithConcurrency(-3)}, ErrInvalidConcurrency},
		{"zero rate limit", ok, []Option{WithRateLimit(0)}, ErrInvalidRateLimit},
		{"negative rate limit", ok, []Option{WithRateLimit(-1)}, ErrInvalidRateLimit},
		{"nil worker", nil, nil, ErrNilWorker},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := New(tc.worker, tc.opts...)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if q != nil {
				t.Fatal("queue returned alongside error")
			}
		})
	}
}

func TestErrorPropagation(t *testing.T) {
	t.Parallel()
	type job struct{ name string }
	fooErr := errors.New("fooError")
	q := mustNew(t, func(_ context.Context, j job, done Callback) {
		if j.name == "foo" {
			done(fooErr)
			return
		}
		done(nil)
	}, WithConcurrency(2))
	done := drained(q)

	rec := &recorder{}
	var hooked []string
	var mu sync.Mutex
	q.OnError(func(err error, j job) {
		if !errors.Is(err, fooErr) {
			t.Errorf("error hook err = %v", err)
		}
		mu.Lock()
		hooked = append(hooked, j.name)
		mu.Unlock()
		rec.add("hook %s", j.name)
	})

	cb := func(name string) Callback {
		return func(err error, _ ...any) {
			if err != nil {
				rec.add("%sError", name)
				return
			}
			rec.add("%s", name)
		}
	}
	q.Pause()
	_ = q.Push(job{"bar"}, cb("bar"))
	_ = q.Push(job{"foo"}, cb("foo"))
	q.Resume()

	waitClosed(t, done, time.Second)
	want := []string{"bar", "fooError", "hook foo"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(hooked, []string{"foo"}) {
		t.Fatalf("error hook saw %v", hooked)
	}
}

func TestErrorHookPerFailingTask(t *testing.T) {
	t.Parallel()
	q := mustNew(t, func(_ context.Context, n int, done Callback) { done(errTask) })
	done := drained(q)

	var cbErrs, hookData []int
	var mu sync.Mutex
	q.OnError(func(err error, n int) {
		mu.Lock()
		hookData = append(hookData, n)
		mu.Unlock()
	})
	q.Pause()
	for i := 1; i <= 2; i++ {
		_ = q.Push(i, func(err error, _ ...any) {
			if errors.Is(err, errTask) {
				mu.Lock()
				cbErrs = append(cbErrs, i)
				mu.Unlock()
			}
		})
	}
	q.Resume()

	waitClosed(t, done, time.Second)
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(cbErrs, []int{1, 2}) || !slices.Equal(hookData, []int{1, 2}) {
		t.Fatalf("callbacks %v, hook %v", cbErrs, hookData)
	}
}

func TestChangingConcurrency(t *testing.T) {
	t.Parallel()
	q := mustNew(t, func(_ context.Context, _ string, done Callback) {
		time.AfterFunc(20*time.Millisecond, func() { done(nil) })
	})
	done := drained(q)

	for range 50 {
		_ = q.Push("", nil)
	}

	time.Sleep(50 * time.Millisecond)
	if q.Concurrency() != 1 || q.Running() > 1 {
		t.Fatalf("Concurrency=%d Running=%d", q.Concurrency(), q.Running())
	}
	if err := q.SetConcurrency(2); err != nil {
		t.Fatalf("SetConcurrency: %v", err)
	}
	waitFor(t, 200*time.Millisecond, func() bool { return q.Running() == 2 })

	_ = q.SetConcurrency(5)
	waitFor(t, 200*time.Millisecond, func() bool { return q.Running() == 5 })

	if err := q.SetConcurrency(0); !errors.Is(err, ErrInvalidConcurrency) {
		t.Fatalf("SetConcurrency(0) err = %v", err)
	}
	waitClosed(t, done, 2*time.Second)
}

func TestPushWithoutCallback(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	var running atomic.Int32
	var concurrency []int32
	var mu sync.Mutex
	delays := map[int]time.Duration{1: 80 * time.Millisecond, 2: 20 * time.Millisecond, 3: 120 * time.Millisecond, 4: 20 * time.Millisecond}

	q := mustNew(t, func(_ context.Context, task int, done Callback) {
		n := running.Add(1)
		mu.Lock()
		concurrency = append(concurrency, n)
		mu.Unlock()
		time.AfterFunc(delays[task], func() {
			rec.add("process %d", task)
			running.Add(-1)
			done(errTask, "arg")
		})
	}, WithConcurrency(2))
	done := drained(q)

	for i := 1; i <= 4; i++ {
		if err := q.Push(i, nil); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	waitClosed(t, done, 2*time.Second)
	if running.Load() != 0 {
		t.Fatalf("running = %d after drain", running.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(concurrency, []int32{1, 2, 2, 2}) {
		t.Fatalf("concurrency = %v", concurrency)
	}
	want := []string{"process 2", "process 1", "process 4", "process 3"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestUnshift(t *testing.T) {
	t.Parallel()
	var order []int
	q := mustNew(t, func(_ context.Context, n int, done Callback) {
		order = append(order, n)
		done(nil)
	})
	done := drained(q)

	q.Pause()
	for _, n := range []int{4, 3, 2, 1} {
		_ = q.Unshift(n, nil)
	}
	q.Resume()

	waitClosed(t, done, time.Second)
	if !slices.Equal(order, []int{1, 2, 3, 4}) {
		t.Fatalf("order = %v", order)
	}
}

func TestUnshiftBatchKeepsOrder(t *testing.T) {
	t.Parallel()
	var order []int
	q := mustNew(t, func(_ context.Context, n int, done Callback) {
		order = append(order, n)
		done(nil)
	})
	done := drained(q)

	q.Pause()
	_ = q.PushBatch([]int{10, 11}, nil)
	_ = q.UnshiftBatch([]int{1, 2, 3}, nil)

	var pending []int
	for task := range q.Tasks() {
		pending = append(pending, task.Data)
	}
	if want := []int{1, 2, 3, 10, 11}; !slices.Equal(pending, want) {
		t.Fatalf("pending = %v, want %v", pending, want)
	}
	q.Resume()

	waitClosed(t, done, time.Second)
	if want := []int{1, 2, 3, 10, 11}; !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestTooManyCallbacks(t *testing.T) {
	t.Parallel()
	got := make(chan any, 1)
	q := mustNew(t, func(_ context.Context, _ int, done Callback) {
		done(nil)
		defer func() { got <- recover() }()
		done(nil)
	}, WithConcurrency(2))
	_ = q.Push(1, nil)

	select {
	case r := <-got:
		if !IsProtocolError(r) {
			t.Fatalf("second completion recovered %v, want ProtocolError", r)
		}
		if !errors.Is(r.(error), ErrCallbackReused) {
			t.Fatalf("protocol error does not wrap ErrCallbackReused: %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("worker never ran")
	}
}

func TestTooManyCallbacksFromAnotherGoroutine(t *testing.T) {
	t.Parallel()
	got := make(chan any, 1)
	q := mustNew(t, func(_ context.Context, _ int, done Callback) {
		go func() {
			done(nil, "first")
			defer func() { got <- recover() }()
			done(nil, "second")
		}()
	})

	var calls atomic.Int32
	_ = q.Push(1, func(error, ...any) { calls.Add(1) })

	select {
	case r := <-got:
		if !IsProtocolError(r) {
			t.Fatalf("recovered %v, want ProtocolError", r)
		}
	case <-time.After(time.Second):
		t.Fatal("worker never ran")
	}
	waitFor(t, time.Second, func() bool { return q.Idle() })
	if calls.Load() != 1 {
		t.Fatalf("task callback ran %d times", calls.Load())
	}
}

func TestBulkTask(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	delays := map[int]time.Duration{1: 80 * time.Millisecond, 2: 20 * time.Millisecond, 3: 120 * time.Millisecond, 4: 20 * time.Millisecond}
	q := mustNew(t, delayed(rec, delays, errTask, func(n int) any { return n }), WithConcurrency(2))
	done := drained(q)

	q.Pause()
	err := q.PushBatch([]int{1, 2, 3, 4}, func(err error, results ...any) {
		if !errors.Is(err, errTask) {
			t.Errorf("err = %v", err)
		}
		rec.add("callback %v", results[0])
	})
	if err != nil {
		t.Fatalf("PushBatch: %v", err)
	}
	if q.Length() != 4 {
		t.Fatalf("Length = %d, want 4", q.Length())
	}
	q.Resume()

	waitClosed(t, done, 2*time.Second)
	want := []string{
		"process 2", "callback 2",
		"process 1", "callback 1",
		"process 4", "callback 4",
		"process 3", "callback 3",
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestIdle(t *testing.T) {
	t.Parallel()
	var q *Queue[int]
	var busy atomic.Int32
	q = mustNew(t, func(_ context.Context, _ int, done Callback) {
		if q.Idle() {
			t.Error("Idle = true while a worker runs")
		}
		busy.Add(1)
		done(nil)
	})
	done := drained(q)

	if !q.Idle() {
		t.Fatal("new queue is not idle")
	}
	for _, n := range []int{4, 3, 2, 1} {
		_ = q.Unshift(n, nil)
	}
	if q.Idle() && busy.Load() == 0 {
		t.Fatal("Idle = true right after submission")
	}

	waitClosed(t, done, time.Second)
	if !q.Idle() {
		t.Fatal("Idle = false after drain")
	}
}

func TestPause(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	var running atomic.Int32
	var mu sync.Mutex
	var concurrency []int32
	snapshot := func() []int32 {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(concurrency)
	}

	q := mustNew(t, func(_ context.Context, task int, done Callback) {
		n := running.Add(1)
		rec.add("process %d", task)
		mu.Lock()
		concurrency = append(concurrency, n)
		mu.Unlock()
		// 5 outlives 4 by a wide margin so 6 starts while 5 is in flight.
		d := 30 * time.Millisecond
		switch task {
		case 1, 4:
			d = 10 * time.Millisecond
		case 5:
			d = 80 * time.Millisecond
		}
		time.AfterFunc(d, func() {
			running.Add(-1)
			done(nil)
		})
	}, WithConcurrency(2))

	finished := make(chan struct{})
	pausedCalls := []string{"process 1", "process 2", "process 3"}

	afterPause := func() {
		if got := snapshot(); !slices.Equal(got, []int32{1, 2, 2}) {
			t.Errorf("concurrency while paused = %v", got)
		}
		if got := rec.snapshot(); !slices.Equal(got, pausedCalls) {
			t.Errorf("calls while paused = %v", got)
		}
		var once sync.Once
		q.OnDrain(func() { once.Do(func() { close(finished) }) })
		q.Resume()
		_ = q.Push(5, nil)
		_ = q.Push(6, nil)
	}
	after2 := func(error, ...any) {
		q.Pause()
		if got := snapshot(); !slices.Equal(got, []int32{1, 2, 2}) {
			t.Errorf("concurrency at pause = %v", got)
		}
		if got := rec.snapshot(); !slices.Equal(got, pausedCalls) {
			t.Errorf("calls at pause = %v", got)
		}
		time.AfterFunc(5*time.Millisecond, func() { _ = q.Push(4, nil) })
		time.AfterFunc(25*time.Millisecond, afterPause)
	}

	_ = q.Push(1, nil)
	_ = q.Push(2, after2)
	_ = q.Push(3, nil)

	waitClosed(t, finished, 2*time.Second)
	if got := snapshot(); !slices.Equal(got, []int32{1, 2, 2, 1, 2, 2}) {
		t.Fatalf("concurrency = %v", got)
	}
	want := []string{"process 1", "process 2", "process 3", "process 4", "process 5", "process 6"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestPauseInWorkerWithConcurrency(t *testing.T) {
	t.Parallel()
	type job struct {
		id   int
		long bool
	}
	var mu sync.Mutex
	var order []int
	record := func(id int) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	var q *Queue[job]
	q = mustNew(t, func(_ context.Context, j job, done Callback) {
		if j.long {
			q.Pause()
			time.AfterFunc(50*time.Millisecond, func() {
				record(j.id)
				q.Resume()
				done(nil)
			})
			return
		}
		record(j.id)
		time.AfterFunc(10*time.Millisecond, func() { done(nil) })
	}, WithConcurrency(10))
	done := drained(q)

	_ = q.Push(job{id: 1, long: true}, nil)
	for id := 2; id <= 5; id++ {
		_ = q.Push(job{id: id}, nil)
	}

	waitClosed(t, done, 2*time.Second)
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(order, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("order = %v", order)
	}
}

func TestStartPaused(t *testing.T) {
	t.Parallel()
	q := mustNew(t, func(_ context.Context, _ int, done Callback) {
		time.AfterFunc(80*time.Millisecond, func() { done(nil) })
	}, WithConcurrency(2))
	done := drained(q)

	q.Pause()
	if !q.Paused() {
		t.Fatal("Paused = false after Pause")
	}
	_ = q.PushBatch([]int{1, 2, 3}, nil)

	time.Sleep(10 * time.Millisecond)
	if q.Running() != 0 {
		t.Fatalf("Running = %d while paused", q.Running())
	}
	q.Resume()

	time.Sleep(30 * time.Millisecond)
	if q.Length() != 1 || q.Running() != 2 {
		t.Fatalf("Length=%d Running=%d, want 1 and 2", q.Length(), q.Running())
	}
	q.Resume()

	waitClosed(t, done, 2*time.Second)
}

func TestKill(t *testing.T) {
	t.Parallel()
	var called atomic.Bool
	q := mustNew(t, func(_ context.Context, _ int, done Callback) {
		called.Store(true)
		done(nil)
	})
	q.OnDrain(func() { t.Error("drain fired after Kill") })

	q.Pause()
	_ = q.Push(0, func(error, ...any) { t.Error("callback of a killed task ran") })
	q.Kill()
	q.Resume()

	time.Sleep(40 * time.Millisecond)
	if q.Length() != 0 {
		t.Fatalf("Length = %d after Kill", q.Length())
	}
	if called.Load() {
		t.Fatal("worker ran for a killed task")
	}
	if !q.Killed() {
		t.Fatal("Killed = false")
	}
	if err := q.Push(1, nil); !errors.Is(err, ErrKilled) {
		t.Fatalf("Push after Kill err = %v", err)
	}
}

func TestKillLetsInFlightTasksFinish(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var ran atomic.Int32
	q := mustNew(t, func(_ context.Context, _ int, done Callback) {
		ran.Add(1)
		go func() {
			<-release
			done(nil, "late")
		}()
	})
	q.OnDrain(func() { t.Error("drain fired after Kill") })

	finished := make(chan []any, 1)
	_ = q.Push(1, func(err error, results ...any) { finished <- results })
	_ = q.Push(2, func(error, ...any) { t.Error("pending task callback ran after Kill") })

	waitFor(t, time.Second, func() bool { return q.Running() == 1 })
	q.Kill()
	if q.Length() != 0 {
		t.Fatalf("Length = %d after Kill", q.Length())
	}
	close(release)

	select {
	case results := <-finished:
		if len(results) != 1 || results[0] != "late" {
			t.Fatalf("results = %v", results)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight callback never ran")
	}
	waitFor(t, time.Second, func() bool { return q.Running() == 0 })
	time.Sleep(20 * time.Millisecond)
	if ran.Load() != 1 {
		t.Fatalf("worker ran %d times", ran.Load())
	}
}

func TestEvents(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	delays := map[string]time.Duration{
		"foo": 10 * time.Millisecond,
		"bar": 30 * time.Millisecond,
		"zoo": 50 * time.Millisecond,
		"poo": 70 * time.Millisecond,
		"moo": 90 * time.Millisecond,
	}
	var q *Queue[string]
	q = mustNew(t, func(_ context.Context, task string, done Callback) {
		rec.add("process %s", task)
		time.AfterFunc(delays[task], func() { done(nil) })
	}, WithConcurrency(3))

	finished := make(chan struct{})
	q.OnSaturated(func() {
		if q.Running() != 3 {
			t.Errorf("saturated with Running = %d", q.Running())
		}
		rec.add("saturated")
	})
	q.OnEmpty(func() {
		if q.Length() != 0 {
			t.Errorf("empty with Length = %d", q.Length())
		}
		rec.add("empty")
	})
	q.OnDrain(func() {
		if q.Length() != 0 || q.Running() != 0 {
			t.Errorf("drain with Length=%d Running=%d", q.Length(), q.Running())
		}
		rec.add("drain")
		close(finished)
	})

	q.Pause()
	for _, name := range []string{"foo", "bar", "zoo", "poo", "moo"} {
		_ = q.Push(name, func(error, ...any) { rec.add("%s cb", name) })
	}
	q.Resume()

	waitClosed(t, finished, 2*time.Second)
	want := []string{
		"process foo",
		"process bar",
		"saturated",
		"process zoo",
		"foo cb",
		"saturated",
		"process poo",
		"bar cb",
		"empty",
		"saturated",
		"process moo",
		"zoo cb",
		"poo cb",
		"moo cb",
		"drain",
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("events = %v\nwant %v", got, want)
	}
}

func TestEmptyBatchDrains(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	q := mustNew(t, func(_ context.Context, task int, done Callback) {
		rec.add("process %d", task)
		done(nil)
	}, WithConcurrency(3))
	finished := make(chan struct{})
	q.OnDrain(func() {
		if q.Length() != 0 || q.Running() != 0 {
			t.Errorf("drain with Length=%d Running=%d", q.Length(), q.Running())
		}
		rec.add("drain")
		close(finished)
	})

	if q.Started() {
		t.Fatal("Started = true before any submission")
	}
	_ = q.PushBatch(nil, nil)
	if !q.Started() {
		t.Fatal("Started = false after an empty submission")
	}

	waitClosed(t, finished, time.Second)
	if got := rec.snapshot(); !slices.Equal(got, []string{"drain"}) {
		t.Fatalf("calls = %v", got)
	}
}

func TestEmptyFiresWhileNotIdle(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	var q *Queue[int]
	q = mustNew(t, func(_ context.Context, task int, done Callback) {
		rec.add("process %d", task)
		go done(nil)
	})
	finished := make(chan struct{})
	q.OnEmpty(func() {
		rec.add("empty")
		if q.Idle() {
			t.Error("Idle = true when empty fired")
		}
		if q.Running() != 1 {
			t.Errorf("Running = %d when empty fired", q.Running())
		}
	})
	q.OnDrain(func() {
		rec.add("drain")
		close(finished)
	})

	_ = q.Push(1, nil)

	waitClosed(t, finished, time.Second)
	if got, want := rec.snapshot(), []string{"empty", "process 1", "drain"}; !slices.Equal(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestSaturated(t *testing.T) {
	t.Parallel()
	var saturated atomic.Int32
	q := mustNew(t, func(_ context.Context, _ string, done Callback) {
		go done(nil)
	}, WithConcurrency(2))
	done := drained(q)
	q.OnSaturated(func() { saturated.Add(1) })

	_ = q.PushBatch([]string{"foo", "bar", "baz", "moo"}, nil)

	waitClosed(t, done, time.Second)
	if saturated.Load() == 0 {
		t.Fatal("saturated never fired")
	}
}

func TestBufferDefaultsToQuarterOfConcurrency(t *testing.T) {
	t.Parallel()
	q := mustNew(t, func(_ context.Context, _ int, done Callback) { done(nil) }, WithConcurrency(10))
	if q.Buffer() != 2.5 {
		t.Fatalf("Buffer = %v, want 2.5", q.Buffer())
	}
	if err := q.SetBuffer(4); err != nil {
		t.Fatalf("SetBuffer: %v", err)
	}
	if q.Buffer() != 4 {
		t.Fatalf("Buffer = %v, want 4", q.Buffer())
	}
	if err := q.SetBuffer(-1); !errors.Is(err, ErrInvalidBuffer) {
		t.Fatalf("SetBuffer(-1) err = %v", err)
	}
}

func TestUnsaturated(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	q := mustNew(t, func(_ context.Context, task int, done Callback) {
		rec.add("process foo%d", task)
		time.AfterFunc(time.Duration(task+1)*15*time.Millisecond, func() { done(nil) })
	}, WithConcurrency(4))
	done := drained(q)
	q.OnUnsaturated(func() { rec.add("unsaturated") })

	q.Pause()
	for i := range 5 {
		_ = q.Push(i, func(error, ...any) { rec.add("foo%d cb", i) })
	}
	q.Resume()

	waitClosed(t, done, 2*time.Second)
	want := []string{
		"process foo0",
		"process foo1",
		"process foo2",
		"process foo3",
		"foo0 cb",
		"unsaturated",
		"process foo4",
		"foo1 cb",
		"unsaturated",
		"foo2 cb",
		"unsaturated",
		"foo3 cb",
		"unsaturated",
		"foo4 cb",
		"unsaturated",
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("calls = %v\nwant %v", got, want)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	var order []int
	q := mustNew(t, func(_ context.Context, n int, done Callback) {
		order = append(order, n)
		go done(nil)
	})
	done := drained(q)

	q.Pause()
	for i := 1; i <= 5; i++ {
		_ = q.Push(i, func(error, ...any) {
			if i == 3 {
				t.Error("callback ran for a removed task")
			}
		})
	}
	if n := q.Remove(func(task *Task[int]) bool { return task.Data == 3 }); n != 1 {
		t.Fatalf("Remove = %d, want 1", n)
	}
	if q.Length() != 4 {
		t.Fatalf("Length = %d after Remove", q.Length())
	}
	q.Resume()

	waitClosed(t, done, time.Second)
	if !slices.Equal(order, []int{1, 2, 4, 5}) {
		t.Fatalf("order = %v", order)
	}
}

func TestFutureWorkers(t *testing.T) {
	t.Parallel()
	type result struct {
		ok   bool
		task int
	}
	cases := []struct {
		name   string
		worker Worker[int]
	}{
		{"FromFuture", FromFuture(func(_ context.Context, n int) *Future {
			f, resolve, _ := NewFuture()
			go resolve(result{ok: true, task: n})
			return f
		})},
		{"Async", Async(func(_ context.Context, n int) (any, error) {
			return result{ok: true, task: n}, nil
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := mustNew(t, tc.worker, WithConcurrency(2))
			done := drained(q)

			var mu sync.Mutex
			got := map[int]result{}
			q.Pause()
			for i := 1; i <= 2; i++ {
				_ = q.Push(i, func(err error, results ...any) {
					if err != nil {
						t.Errorf("task %d: %v", i, err)
						return
					}
					mu.Lock()
					got[i] = results[0].(result)
					mu.Unlock()
				})
			}
			q.Resume()

			waitClosed(t, done, time.Second)
			mu.Lock()
			defer mu.Unlock()
			for i := 1; i <= 2; i++ {
				if r := got[i]; !r.ok || r.task != i {
					t.Fatalf("task %d result = %+v", i, r)
				}
			}
			if q.Concurrency() != 2 || q.Length() != 0 {
				t.Fatalf("Concurrency=%d Length=%d", q.Concurrency(), q.Length())
			}
		})
	}
}

func TestSyncWorkerReportsError(t *testing.T) {
	t.Parallel()
	q := mustNew(t, Sync(func(_ context.Context, n int) (any, error) {
		if n < 0 {
			return nil, errTask
		}
		return n * 2, nil
	}))
	done := drained(q)

	var mu sync.Mutex
	got := map[int]any{}
	q.Pause()
	for _, n := range []int{-1, 21} {
		_ = q.Push(n, func(err error, results ...any) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				got[n] = err
				return
			}
			got[n] = results[0]
		})
	}
	q.Resume()

	waitClosed(t, done, time.Second)
	mu.Lock()
	defer mu.Unlock()
	if got[21] != 42 {
		t.Fatalf("result = %v", got[21])
	}
	if err, _ := got[-1].(error); !errors.Is(err, errTask) {
		t.Fatalf("error = %v", got[-1])
	}
}

func TestWorkerPanicBecomesTaskError(t *testing.T) {
	t.Parallel()
	q := mustNew(t, func(_ context.Context, n int, done Callback) {
		if n == 1 {
			panic("kaboom")
		}
		done(nil)
	})
	done := drained(q)

	var mu sync.Mutex
	errs := map[int]error{}
	q.Pause()
	for i := 1; i <= 2; i++ {
		_ = q.Push(i, func(err error, _ ...any) {
			mu.Lock()
			errs[i] = err
			mu.Unlock()
		})
	}
	q.Resume()

	waitClosed(t, done, time.Second)
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(errs[1], ErrWorkerPanic) {
		t.Fatalf("panicking task err = %v", errs[1])
	}
	if errs[2] != nil {
		t.Fatalf("next task err = %v", errs[2])
	}
}

func TestDeepSynchronousChain(t *testing.T) {
	t.Parallel()
	const n = 20000
	var count int
	q := mustNew(t, func(_ context.Context, _ int, done Callback) {
		count++
		done(nil)
	})
	done := drained(q)

	items := make([]int, n)
	_ = q.PushBatch(items, nil)

	waitClosed(t, done, 10*time.Second)
	if count != n {
		t.Fatalf("processed %d of %d", count, n)
	}
}

func TestWorkersListAndStats(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	q := mustNew(t, func(_ context.Context, _ int, done Callback) {
		go func() {
			<-release
			done(nil)
		}()
	}, WithConcurrency(2), WithName("stats"))
	done := drained(q)

	_ = q.PushBatch([]int{1, 2, 3}, nil)
	waitFor(t, time.Second, func() bool { return q.Running() == 2 })

	var inflight []int
	for _, task := range q.WorkersList() {
		inflight = append(inflight, task.Data)
	}
	if !slices.Equal(inflight, []int{1, 2}) {
		t.Fatalf("WorkersList = %v", inflight)
	}

	s := q.Stats()
	if s.Name != "stats" || s.Concurrency != 2 || s.Running != 2 || s.Pending != 1 || !s.Started || s.Buffer != 0.5 {
		t.Fatalf("Stats = %+v", s)
	}
	if s.RateLimit != 0 || s.Tokens != 0 {
		t.Fatalf("unlimited queue reports rate %d tokens %d", s.RateLimit, s.Tokens)
	}

	close(release)
	waitClosed(t, done, time.Second)
}

func TestHooksMayReplaceThemselves(t *testing.T) {
	t.Parallel()
	var q *Queue[int]
	second := make(chan struct{})
	q = mustNew(t, func(_ context.Context, _ int, done Callback) { go done(nil) })
	q.OnDrain(func() {
		q.OnDrain(func() { close(second) })
		_ = q.Push(2, nil)
	})
	_ = q.Push(1, nil)
	waitClosed(t, second, time.Second)
}
