// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package upstream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mia-platform/tallysync/internal/logger"
)

const (
	loggerName = "tallysync:upstream"

	maxRetryWait = time.Minute
)

// Retry calls fn until it succeeds, returns a non retryable error, or the
// attempts configured in opts are exhausted. Every attempt gets its own
// timeout derived from opts; the wait between attempts doubles each time.
func Retry(ctx context.Context, opts QueryOptions, fn func(ctx context.Context) error) error {
	log := logger.Named(ctx, loggerName)
	maxAttempts := opts.attempts()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := runAttempt(ctx, opts, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case !Retryable(err):
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newBackOff(opts)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("upstream query failed, retrying", "category", opts.Category, "attempt", attempt, "maxAttempts", maxAttempts, "wait", wait.String(), "error", err)
		}),
	)
	return err
}

// newBackOff doubles the configured wait without jitter, capped at maxRetryWait.
func newBackOff(opts QueryOptions) *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.backoff()
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = max(maxRetryWait, opts.backoff())
	policy.Reset()
	return policy
}

func runAttempt(ctx context.Context, opts QueryOptions, fn func(ctx context.Context) error) error {
	timeout, ok := opts.EffectiveTimeout()
	if !ok {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && KindOf(err) == 0 {
		return NewError(KindTimeout, "", err)
	}
	return err
}
