// Package retry provides a bounded retry policy for wait loops that poll an
// external state. Every loop carries a hard attempt cap and an overall
// timeout so waiting can never become unbounded.
package retry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExhausted is returned once the attempt cap is reached.
	ErrExhausted = errors.New("retry: attempts exhausted")
	// ErrTimeout is returned when the overall deadline expires first.
	ErrTimeout = errors.New("retry: timed out")
)

// Policy describes one bounded wait loop.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
	Timeout     time.Duration
}

// Do invokes fn until it reports done, the attempt cap is reached, or the
// policy timeout or context expires. A non-nil error from fn stops the loop
// immediately and is returned as-is.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) (bool, error)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return timeoutErr(ctx)
			case <-time.After(interval):
			}
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrExhausted
}

func timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
