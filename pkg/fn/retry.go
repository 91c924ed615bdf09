package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	// Jitter scales each wait by a random factor in [0.5, 1.5).
	Jitter bool
	// Retryable decides whether a failed attempt is worth repeating.
	// Nil retries every error.
	Retryable func(error) bool
	// OnRetry is called before each wait with the 1-based attempt that
	// just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetry backs off from one second up to thirty, three attempts in all.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// backoff returns the wait after the given 1-based failed attempt.
func (o RetryOpts) backoff(attempt int) time.Duration {
	wait := o.InitialWait
	for i := 1; i < attempt && wait < o.MaxWait; i++ {
		wait *= 2
	}
	if o.Jitter {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
	}
	return min(wait, o.MaxWait)
}

// Retry calls f until it succeeds, returns a non-retryable error, or
// MaxAttempts calls have been made. A done ctx during a wait ends the loop
// with ctx.Err().
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	var r Result[T]
	for attempt := 1; ; attempt++ {
		r = f(ctx)
		if r.err == nil || attempt == attempts {
			return r
		}
		if opts.Retryable != nil && !opts.Retryable(r.err) {
			return r
		}

		wait := opts.backoff(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, r.err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
	}
}

// RetryStage retries stage with opts.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
