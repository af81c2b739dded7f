// Package poll waits for a condition within a fixed number of attempts.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Result is the outcome of Await.
type Result uint8

const (
	Ready Result = iota + 1
	Timeout
	Error
)

func (r Result) String() string {
	switch r {
	case Ready:
		return "ready"
	case Timeout:
		return "timeout"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrTimeout is returned (wrapped) when the bound is exhausted.
var ErrTimeout = errors.New("condition not met within bound")

// errNotReady marks an attempt that completed but did not satisfy the
// condition. It never escapes this package.
var errNotReady = errors.New("not ready")

// Bound limits how often and how frequently a condition is checked.
type Bound struct {
	Attempts int
	Interval time.Duration
}

func (b Bound) String() string {
	return fmt.Sprintf("%d x %s", b.Attempts, b.Interval)
}

// Check reports whether the condition holds. A non-nil error aborts polling.
type Check func(ctx context.Context) (bool, error)

type options struct {
	between func(ctx context.Context, attempt int, lastErr error)
}

type Option func(*options)

// Between registers fn to run after every failed attempt that is followed by
// another attempt. attempt is 1-based. lastErr is the reason the attempt
// failed, or nil when the condition simply did not hold.
func Between(fn func(ctx context.Context, attempt int, lastErr error)) Option {
	return func(o *options) { o.between = fn }
}

// Await invokes check at most b.Attempts times, b.Interval apart, and
// returns as soon as it reports done.
func Await(ctx context.Context, b Bound, check Check, opts ...Option) (Result, error) {
	if check == nil {
		return Error, errors.New("poll: check is required")
	}
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	attempt := 0
	var lastErr error
	op := func() error {
		attempt++
		done, err := check(ctx)
		if err != nil {
			var retry *RetryableError
			if errors.As(err, &retry) {
				lastErr = retry.Err
				return err
			}
			return backoff.Permanent(err)
		}
		if !done {
			lastErr = nil
			return errNotReady
		}
		return nil
	}
	notify := func(error, time.Duration) {
		if o.between != nil {
			o.between(ctx, attempt, lastErr)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.Interval), uint64(attempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		return Ready, nil
	case errors.Is(err, errNotReady):
		return Timeout, fmt.Errorf("%w after %d attempts", ErrTimeout, attempt)
	case isRetryable(err):
		return Timeout, fmt.Errorf("%w after %d attempts: %w", ErrTimeout, attempt, lastErr)
	default:
		return Error, err
	}
}

// RetryableError wraps an attempt failure that should count against the
// bound instead of aborting.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retry marks err as a failed attempt rather than a fatal one.
func Retry(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func isRetryable(err error) bool {
	var retry *RetryableError
	return errors.As(err, &retry)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
