package fn

import (
	"context"
	"sync"
)

// ParMap runs f over items on at most workers goroutines and returns the
// results in input order. workers <= 0 runs every item at once.
//
// Once ctx is done no further item is started; items that never ran report
// ctx.Err(). Calls already running see the cancelled ctx themselves.
func ParMap[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) (U, error)) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	next := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range next {
				v, err := f(ctx, items[i])
				out[i] = FromPair(v, err)
			}
		}()
	}

	started := 0
feed:
	for ; started < len(items); started++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case next <- started:
		case <-ctx.Done():
			break feed
		}
	}
	close(next)
	wg.Wait()

	for i := started; i < len(items); i++ {
		out[i] = Err[U](ctx.Err())
	}
	return out
}
