package telegraph

import (
	"context"
	"time"
)

// Backoff is a doubling delay schedule shared by the platform adapters for
// rate-limited posts and dropped connections.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration // zero means uncapped
	Retries int
}

// Delay returns the wait before retry n, counting from zero.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Retry calls fn until it succeeds or retryable rejects its error, at most
// Retries extra times. retryable returns the wait the platform asked for;
// zero falls back to the schedule.
func (b Backoff) Retry(ctx context.Context, fn func() error, retryable func(error) (time.Duration, bool)) error {
	for n := 0; ; n++ {
		err := fn()
		if err == nil {
			return nil
		}
		wait, ok := retryable(err)
		if !ok || n >= b.Retries {
			return err
		}
		if wait <= 0 {
			wait = b.Delay(n)
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
