// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry(t *testing.T) {
	t.Parallel()

	timeoutErr := NewError(KindTimeout, "", errors.New("slow"))
	protocolErr := NewError(KindProtocol, "", errors.New("bad envelope"))

	testCases := map[string]struct {
		opts             QueryOptions
		results          []error
		expectedAttempts int
		expectedError    error
	}{
		"success at first attempt": {
			opts:             QueryOptions{MaxAttempts: 3, Backoff: time.Millisecond},
			results:          []error{nil},
			expectedAttempts: 1,
		},
		"retryable errors until success": {
			opts:             QueryOptions{MaxAttempts: 3, Backoff: time.Millisecond},
			results:          []error{timeoutErr, NewError(KindUnreachable, "", nil), nil},
			expectedAttempts: 3,
		},
		"attempts exhausted": {
			opts:             QueryOptions{MaxAttempts: 2, Backoff: time.Millisecond},
			results:          []error{timeoutErr, timeoutErr, nil},
			expectedAttempts: 2,
			expectedError:    ErrUpstreamTimeout,
		},
		"protocol errors abort immediately": {
			opts:             QueryOptions{MaxAttempts: 3, Backoff: time.Millisecond},
			results:          []error{protocolErr, nil},
			expectedAttempts: 1,
			expectedError:    ErrUpstreamProtocol,
		},
		"unclassified errors abort immediately": {
			opts:             QueryOptions{MaxAttempts: 3, Backoff: time.Millisecond},
			results:          []error{context.Canceled, nil},
			expectedAttempts: 1,
			expectedError:    context.Canceled,
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			attempts := 0
			err := Retry(t.Context(), test.opts, func(context.Context) error {
				result := test.results[attempts]
				attempts++
				return result
			})

			assert.Equal(t, test.expectedAttempts, attempts)
			if test.expectedError != nil {
				assert.ErrorIs(t, err, test.expectedError)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRetryAttemptTimeout(t *testing.T) {
	t.Parallel()

	opts := QueryOptions{Timeout: 10 * time.Millisecond, MaxAttempts: 2, Backoff: time.Millisecond}
	attempts := 0
	err := Retry(t.Context(), opts, func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	opts := QueryOptions{MaxAttempts: 5, Backoff: time.Hour}
	attempts := 0
	err := Retry(ctx, opts, func(context.Context) error {
		attempts++
		cancel()
		return NewError(KindUnreachable, "", nil)
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWaitsDouble(t *testing.T) {
	t.Parallel()

	policy := newBackOff(QueryOptions{Backoff: 20 * time.Second})
	assert.Equal(t, 20*time.Second, policy.NextBackOff())
	assert.Equal(t, 40*time.Second, policy.NextBackOff())
	assert.Equal(t, time.Minute, policy.NextBackOff())
	assert.Equal(t, time.Minute, policy.NextBackOff())

	policy = newBackOff(QueryOptions{})
	assert.Equal(t, DefaultBackoff, policy.NextBackOff())
}

func TestEffectiveTimeout(t *testing.T) {
	t.Parallel()

	timeout, ok := QueryOptions{}.EffectiveTimeout()
	assert.True(t, ok)
	assert.Equal(t, DefaultTimeout, timeout)

	timeout, ok = QueryOptions{Timeout: time.Minute}.EffectiveTimeout()
	assert.True(t, ok)
	assert.Equal(t, time.Minute, timeout)

	_, ok = QueryOptions{Timeout: NoTimeout}.EffectiveTimeout()
	assert.False(t, ok)
}
