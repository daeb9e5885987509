// Package pool runs indexed tasks on a fixed number of goroutines.
package pool

import (
	"context"
	"sync"
)

// Run calls fn(ctx, i) for every i in [0, n) on at most workers goroutines.
// After the first error no further tasks are started, the context passed to
// running tasks is cancelled, and that error is returned once every running
// task has returned. Run returns ctx.Err() if ctx ends before all tasks ran.
func Run(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	workers = max(1, min(workers, n))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		firstErr error
		wg       sync.WaitGroup
	)
	tasks := make(chan int)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				if runCtx.Err() != nil {
					continue
				}
				if err := fn(runCtx, i); err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}
		}()
	}

feed:
	for i := range n {
		select {
		case tasks <- i:
		case <-runCtx.Done():
			break feed
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
