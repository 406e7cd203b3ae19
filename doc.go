// Package qrate is a bounded-concurrency task queue with an optional rate
// limit.
//
// A Queue hands each submitted item to a Worker, keeping at most
// Concurrency of them in flight. With WithRateLimit it also dispatches no
// more than n tasks per refill period. Hooks report when the queue is
// saturated, unsaturated, empty or drained.
//
//	q, err := qrate.New(qrate.Async(func(ctx context.Context, url string) (any, error) {
//		return fetch(ctx, url)
//	}), qrate.WithConcurrency(4), qrate.WithRateLimit(10))
//	if err != nil {
//		return err
//	}
//	q.OnDrain(func() { close(done) })
//	for _, u := range urls {
//		_ = q.Push(u, nil)
//	}
//
// Workers run on the queue's scheduling goroutine and must not block it;
// use Async for blocking work or call done from another goroutine.
package qrate
