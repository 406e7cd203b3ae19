package loop

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPostRunsInOrder(t *testing.T) {
	t.Parallel()
	l := New()
	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Wait()

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	if !slices.Equal(got, want) {
		t.Fatalf("order = %v", got)
	}
	if l.Pending() != 0 {
		t.Fatalf("Pending = %d after Wait", l.Pending())
	}
}

func TestPostFromInsideRunsAfterCurrent(t *testing.T) {
	t.Parallel()
	l := New()
	var order []string
	gate := make(chan struct{})
	l.Post(func() {
		<-gate
		l.Post(func() { order = append(order, "nested") })
		order = append(order, "outer")
	})
	l.Post(func() { order = append(order, "second") })
	close(gate)
	l.Wait()

	if want := []string{"outer", "second", "nested"}; !slices.Equal(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestNeverRunsConcurrently(t *testing.T) {
	t.Parallel()
	l := New()
	var active, overlap atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l.Post(func() {
					if active.Add(1) > 1 {
						overlap.Add(1)
					}
					active.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	l.Wait()
	if n := overlap.Load(); n != 0 {
		t.Fatalf("%d overlapping executions", n)
	}
}
