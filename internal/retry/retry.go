// internal/retry/retry.go

// Package retry is the one bounded-retry primitive shared by the chain
// gateway, swap pipeline and bundle protocol. Every network stage used to
// carry its own loop-with-a-counter; they all route through Do now so the
// attempt ceiling, delay strategy and retryable-error predicate live in one
// place.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy parameterizes one retried operation.
type Policy struct {
	// MaxAttempts caps the total number of tries, first attempt included.
	MaxAttempts uint
	// Delay is the initial wait between attempts.
	Delay time.Duration
	// Exponential grows the delay between attempts; when false the delay is
	// constant, matching the fixed-sleep behaviour of the quote stage.
	Exponential bool
	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries everything.
	Retryable func(error) bool
	// Notify, when set, observes each failed attempt.
	Notify func(err error, next time.Duration)
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
// Errors rejected by the Retryable predicate short-circuit immediately.
func Do[T any](ctx context.Context, policy Policy, op func() (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && policy.Retryable != nil && !policy.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(attempts),
	}
	if policy.Notify != nil {
		opts = append(opts, backoff.WithNotify(policy.Notify))
	}

	return backoff.Retry(ctx, wrapped, opts...)
}

func (p Policy) backOff() backoff.BackOff {
	delay := p.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	if !p.Exponential {
		return backoff.NewConstantBackOff(delay)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = delay
	bo.MaxInterval = delay * 10
	return bo
}
