// Package retry wraps remote calls with exponential-backoff retry and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kmalloy/sessionscribe/internal/logger"
)

// ExhaustedError reports a call that kept failing with retryable errors for
// its whole attempt budget.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// RetryableError marks an error as transient. Errors not wrapped in it (and
// not transport-level timeouts) propagate immediately without consuming
// further attempts.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the caller will retry it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was marked transient.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Attempt describes one invocation of a remote call, reported to the
// progress callback before the backoff wait that follows it.
type Attempt struct {
	Number int
	Err    error
	Wait   time.Duration
}

// Caller executes remote operations with per-call backoff state. Attempt and
// backoff bookkeeping never leak across calls, so unrelated chunks cannot
// couple their retry budgets.
type Caller struct {
	maxAttempts int
	baseDelay   time.Duration
	maxJitter   time.Duration
	log         logger.Logger
	onAttempt   func(Attempt)
}

// New creates a Caller. onAttempt may be nil.
func New(maxAttempts int, baseDelay, maxJitter time.Duration, log logger.Logger, onAttempt func(Attempt)) *Caller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Caller{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxJitter:   maxJitter,
		log:         log,
		onAttempt:   onAttempt,
	}
}

// Call executes op, retrying transient failures with delay
// baseDelay * 2^(attempt-1) plus bounded random jitter, up to maxAttempts.
// Cancellation aborts before the next attempt starts. Non-retryable errors
// propagate unchanged.
func (c *Caller) Call(ctx context.Context, name string, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.Multiplier = 2
	// RandomizationFactor scales jitter relative to the current interval;
	// bound it by the configured absolute maximum on the first interval.
	bo.RandomizationFactor = jitterFactor(c.baseDelay, c.maxJitter)
	bo.MaxInterval = c.baseDelay << uint(c.maxAttempts)
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempt := 0
	var lastErr error

	wrapped := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		c.log.Debug(ctx, "%s: attempt %d/%d", name, attempt, c.maxAttempts)

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		a := Attempt{Number: attempt, Err: err, Wait: wait}
		c.log.Warn(ctx, "%s: attempt %d/%d failed, retrying in %s: %v",
			name, a.Number, c.maxAttempts, wait.Round(time.Millisecond), err)
		if c.onAttempt != nil {
			c.onAttempt(a)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1)), ctx)
	err := backoff.RetryNotify(wrapped, policy, notify)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !IsRetryable(err) {
		return err
	}
	return &ExhaustedError{Attempts: attempt, Err: lastErr}
}

func jitterFactor(base, maxJitter time.Duration) float64 {
	if base <= 0 || maxJitter <= 0 {
		return 0
	}
	f := float64(maxJitter) / float64(base)
	if f > 0.5 {
		f = 0.5
	}
	return f
}
