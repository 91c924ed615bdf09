package fn

import "context"

// Future is the result of a call running on its own goroutine. It lets a
// single caller keep several network calls in flight and await them later.
type Future[T any] struct {
	done chan struct{}
	res  Result[T]
}

// Go starts f and returns its Future.
func Go[T any](ctx context.Context, f func(context.Context) (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(fut.done)
		v, err := f(ctx)
		fut.res = FromPair(v, err)
	}()
	return fut
}

// Await blocks until the call finishes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.res.Unwrap()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the call finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }
