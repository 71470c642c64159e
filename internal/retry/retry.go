// Package retry runs an operation under an exponential backoff policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Class tells the retry loop how to treat an error.
type Class int

const (
	// Permanent errors end the loop immediately.
	Permanent Class = iota
	// Transient errors are retried and count toward MaxAttempts.
	Transient
	// RateLimited errors are retried on their own budget (MaxRateLimitWaits).
	RateLimited
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

// Policy parameterizes the backoff loop.
type Policy struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	RateLimitBaseDelay time.Duration
	MaxRateLimitWaits  int
	MaxDelay           time.Duration
	// DelayFloor, when set, raises the computed delay for errors that carry
	// their own wait hint (e.g. Retry-After).
	DelayFloor         func(err error) time.Duration
	Sleep              func(ctx context.Context, d time.Duration) error
}

// Retry describes one scheduled retry, reported to the observer before sleeping.
type Retry struct {
	Attempt int
	Delay   time.Duration
	Class   Class
	Err     error
}

// ExhaustedError is returned when the policy gives up on a retryable error.
type ExhaustedError struct {
	Attempts    int
	RateLimited bool
	Cause       error
}

func (e *ExhaustedError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("still rate limited after %d attempts: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// Backoff returns base * 2^attempt, capped at max when max > 0.
func Backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base << uint(attempt)
	if delay < base {
		delay = max
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// Do calls fn until it succeeds, returns a permanent error, or the policy is
// exhausted. attempt passed to fn is zero-based and counts every call.
func Do[T any](ctx context.Context, policy Policy, classify func(error) Class, fn func(ctx context.Context, attempt int) (T, error), observe func(Retry)) (T, error) {
	var zero T
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	rateLimitBase := policy.RateLimitBaseDelay
	if rateLimitBase <= 0 {
		rateLimitBase = policy.BaseDelay
	}

	transientFailures := 0
	rateLimitWaits := 0
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Wrap(err, "retry aborted")
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}

		class := classify(err)
		var delay time.Duration
		switch class {
		case Permanent:
			return zero, err
		case RateLimited:
			rateLimitWaits++
			if rateLimitWaits > policy.MaxRateLimitWaits {
				return zero, &ExhaustedError{Attempts: attempt + 1, RateLimited: true, Cause: err}
			}
			delay = Backoff(rateLimitBase, attempt, policy.MaxDelay)
		case Transient:
			transientFailures++
			if transientFailures >= maxAttempts {
				return zero, &ExhaustedError{Attempts: attempt + 1, Cause: err}
			}
			delay = Backoff(policy.BaseDelay, attempt, policy.MaxDelay)
		}

		if policy.DelayFloor != nil {
			if floor := policy.DelayFloor(err); floor > delay {
				delay = floor
			}
		}
		if observe != nil {
			observe(Retry{Attempt: attempt, Delay: delay, Class: class, Err: err})
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, errors.WithSecondaryError(errors.Wrap(sleepErr, "backoff interrupted"), err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
