package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

var (
	// ErrExhausted is returned when a unit used every attempt or hit its timeout.
	ErrExhausted = errors.New("retry budget exhausted")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the Executor stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Func is one attempt of a unit. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// RetryHook is called after a failed attempt that will be retried.
type RetryHook func(attempt int, err error, delay time.Duration)

// Executor applies a Policy to units of work.
type Executor struct {
	policy  Policy
	onRetry RetryHook
}

// NewExecutor creates an executor for the given policy.
func NewExecutor(policy Policy) *Executor {
	return &Executor{policy: policy}
}

// OnRetry registers a hook invoked before each backoff wait.
func (e *Executor) OnRetry(fn RetryHook) {
	e.onRetry = fn
}

// Do runs fn until it succeeds, returns a permanent error, or the policy is used up.
// It returns the number of attempts made.
//
// Cancellation of ctx is returned as ctx.Err() and is not treated as exhaustion,
// so the caller can resume the unit later.
func (e *Executor) Do(ctx context.Context, fn Func) (int, error) {
	unitCtx := ctx
	if e.policy.Timeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, e.policy.Timeout)
		defer cancel()
	}

	attempts := 0
	var lastErr error

	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		delay := e.policy.Delay(attempts - 1)
		if e.onRetry != nil {
			e.onRetry(attempts, lastErr, delay)
		}
		return delay, false
	})
	maxRetries := uint64(0)
	if e.policy.MaxAttempts > 1 {
		maxRetries = uint64(e.policy.MaxAttempts - 1)
	}

	err := goretry.Do(unitCtx, goretry.WithMaxRetries(maxRetries, backoff), func(ctx context.Context) error {
		attempts++
		err := fn(ctx, attempts)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		return goretry.RetryableError(err)
	})
	if err == nil {
		return attempts, nil
	}

	if ctx.Err() != nil {
		return attempts, ctx.Err()
	}
	if unitCtx.Err() != nil {
		if lastErr == nil {
			lastErr = unitCtx.Err()
		}
		return attempts, fmt.Errorf("%w: timed out after %s and %d attempts: %w",
			ErrExhausted, e.policy.Timeout, attempts, lastErr)
	}
	if IsPermanent(err) {
		return attempts, fmt.Errorf("permanent failure on attempt %d: %w", attempts, err)
	}
	return attempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}
