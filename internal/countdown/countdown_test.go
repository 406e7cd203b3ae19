package countdown

import (
	"sync/atomic"
	"testing"
	"time"
)

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

func TestTimerFiresEveryPeriod(t *testing.T) {
	t.Parallel()
	var fires atomic.Int32
	tm := New(20*time.Millisecond, func() { fires.Add(1) })
	t.Cleanup(tm.Stop)

	if tm.Remaining() != 0 {
		t.Fatalf("unstarted timer Remaining = %s", tm.Remaining())
	}
	tm.Start()
	waitFor(t, time.Second, func() bool { return fires.Load() >= 3 })
}

func TestPausePreservesRemaining(t *testing.T) {
	t.Parallel()
	var fires atomic.Int32
	period := 200 * time.Millisecond
	tm := New(period, func() { fires.Add(1) })
	t.Cleanup(tm.Stop)
	tm.Start()

	time.Sleep(120 * time.Millisecond)
	rem, ok := tm.Pause()
	if !ok {
		t.Fatal("Pause on running timer returned false")
	}
	if rem <= 0 || rem >= period {
		t.Fatalf("remaining = %s, want within (0, %s)", rem, period)
	}
	if _, ok := tm.Pause(); ok {
		t.Fatal("second Pause returned true")
	}
	if !tm.Paused() {
		t.Fatal("Paused = false after Pause")
	}
	if got := tm.Remaining(); got != rem {
		t.Fatalf("Remaining while paused = %s, want %s", got, rem)
	}

	// Nothing fires while paused, even well past the original deadline.
	time.Sleep(period)
	if n := fires.Load(); n != 0 {
		t.Fatalf("fired %d times while paused", n)
	}

	start := time.Now()
	if !tm.Resume() {
		t.Fatal("Resume returned false")
	}
	waitFor(t, time.Second, func() bool { return fires.Load() == 1 })
	// Resuming continues the same period instead of restarting it.
	if took := time.Since(start); took >= period {
		t.Fatalf("fire after resume took %s, want < %s", took, period)
	}
}

func TestStopIsPermanent(t *testing.T) {
	t.Parallel()
	var fires atomic.Int32
	tm := New(10*time.Millisecond, func() { fires.Add(1) })
	tm.Start()
	tm.Stop()
	tm.Start()
	if tm.Resume() {
		t.Fatal("Resume after Stop returned true")
	}
	time.Sleep(50 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("fired %d times after Stop", n)
	}
	if !tm.Stopped() {
		t.Fatal("Stopped = false")
	}
}
