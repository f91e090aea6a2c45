// Package retry runs an operation until it succeeds, a fatal error is
// returned, attempts run out or the context ends.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type policy struct {
	attempts int
	delay    time.Duration
	maxDelay time.Duration
	factor   float64
	onRetry  func(attempt int, err error)
}

type Option func(*policy)

// Attempts is the total number of calls, including the first.
func Attempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

func Delay(d time.Duration) Option {
	return func(p *policy) { p.delay = d }
}

func MaxDelay(d time.Duration) Option {
	return func(p *policy) { p.maxDelay = d }
}

// Factor multiplies the delay after every failed attempt. 1 keeps it fixed.
func Factor(f float64) Option {
	return func(p *policy) {
		if f >= 1 {
			p.factor = f
		}
	}
}

// OnRetry is called before each wait with the attempt that just failed.
func OnRetry(fn func(attempt int, err error)) Option {
	return func(p *policy) { p.onRetry = fn }
}

func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	p := policy{attempts: 3, delay: time.Second, maxDelay: 30 * time.Second, factor: 2}
	for _, opt := range opts {
		opt(&p)
	}

	delay := p.delay
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsFatal(err) {
			return errors.Unwrap(err)
		}
		if attempt == p.attempts {
			break
		}
		if p.onRetry != nil {
			p.onRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * p.factor)
		if p.maxDelay > 0 && delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", p.attempts, lastErr)
}

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal stops the retry loop; Do returns err unwrapped.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
