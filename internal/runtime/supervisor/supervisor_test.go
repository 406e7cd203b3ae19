package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestStopWaitsForGoroutines(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var stopped atomic.Bool
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		stopped.Store(true)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped.Load() {
		t.Fatal("Stop returned before the goroutine exited")
	}
	if started, active := s.Counters(); started != 1 || active != 0 {
		t.Fatalf("counters = %d/%d", started, active)
	}
}

func TestPanicBecomesErrorAndCancels(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("bad", func(context.Context) error { panic("boom") })
	s.Go("good", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "bad: panic: boom") {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestFirstErrorWins(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	first := errors.New("first")
	s.Go("a", func(context.Context) error { return first })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Wait(ctx)

	s2 := New(context.Background())
	s2.Go("b", func(context.Context) error { return context.Canceled })
	if err := s2.Wait(ctx); err != nil {
		t.Fatalf("context.Canceled reported as %v", err)
	}
	if err := s.Err(); !errors.Is(err, first) {
		t.Fatalf("Err = %v", err)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d", runs.Load())
	}
}
