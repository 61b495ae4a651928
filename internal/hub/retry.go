package hub

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryPolicy retries remote calls that fail with transient errors using
// capped exponential backoff. Permanent errors are returned immediately.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first.
	Attempts  int
	BaseDelay time.Duration
	Factor    float64
	MaxDelay  time.Duration

	// Classify decides whether an error is worth retrying. Defaults to IsTransient.
	Classify func(error) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger Logger
}

// DefaultRetryPolicy returns 3 attempts starting at 300ms, doubling, capped at 3s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 300 * time.Millisecond,
		Factor:    2,
		MaxDelay:  3 * time.Second,
	}
}

// Delay returns the wait before retry n (0-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay) * math.Pow(factor, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails permanently, or the attempt budget is spent.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Retry(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is Do for operations that return a value.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)
	classify := p.Classify
	if classify == nil {
		classify = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := orNop(p.Logger)

	for n := 0; ; n++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		// The caller's own cancellation ends the loop regardless of the cause.
		if ctx.Err() != nil || !classify(err) {
			return v, err
		}
		if n+1 >= attempts {
			return v, fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, err)
		}

		delay := p.Delay(n)
		logger.Warn("transient failure, retrying", "op", op, "attempt", n+1, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return v, fmt.Errorf("%s: %w", op, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
