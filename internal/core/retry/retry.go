// Package retry schedules retry attempts for a failed fetch per the
// RetryPolicy attached to a Request, honoring §7's retriability table
// (Transport, Timeout, Limited, and HttpStatusErrors with status 408,
// 429, 500, 502, 503 or 504 retry; everything else, including
// CircuitOpen and InvalidRequest, stops immediately).
// It reuses github.com/cenkalti/backoff/v5, grounded on the same
// Backoff{BaseDelay,Multiplier,Jitter,MaxDelay} config shape the
// teacher's outbound gRPC dialer used for its retry interceptor.
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v5"

	"fetchcore/internal/domain/model"
)

func newBackOff(p model.RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()

	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.BackoffFactor > 0 {
		b.Multiplier = p.BackoffFactor
	}
	if p.Jitter > 0 {
		b.RandomizationFactor = p.Jitter
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}

	return b
}

// Do runs fn, retrying on retriable errors per policy until MaxAttempts
// is exhausted, ctx is cancelled, or fn returns a non-retriable error.
// A MaxAttempts of zero or one means "no retries" — fn runs exactly
// once.
func Do[T any](ctx context.Context, policy model.RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	opts := []backoff.RetryOption{backoff.WithMaxTries(uint(attempts))}
	if attempts > 1 {
		opts = append(opts, backoff.WithBackOff(newBackOff(policy)))
	}

	return backoff.Retry(ctx, func() (T, error) {
		result, err := fn(ctx)
		if err != nil && !model.Retriable(err) {
			return result, backoff.Permanent(err)
		}

		return result, err
	}, opts...)
}
