// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package upstream

import (
	"context"
	"time"
)

const (
	// DefaultTimeout is applied to a query when QueryOptions.Timeout is zero.
	DefaultTimeout = 15 * time.Minute
	// DefaultMaxAttempts is applied to a query when QueryOptions.MaxAttempts is not positive.
	DefaultMaxAttempts = 3
	// DefaultBackoff is the wait before the second attempt, doubled on every following one.
	DefaultBackoff = 2 * time.Second

	// NoTimeout disables the per attempt timeout and must be set explicitly.
	NoTimeout time.Duration = -1
)

// Record is a single raw record returned by the accounting engine, keyed by field name.
type Record map[string]any

// QueryDescriptor describes which records must be fetched from the engine.
type QueryDescriptor struct {
	// Company identifies the tenant inside the engine.
	Company string
	// Collection is the engine side object type, for example "Ledger" or "Voucher".
	Collection string
	// Fetch lists the fields that must be returned for every record.
	Fetch []string
	// Filters are field equality filters applied by the engine.
	Filters map[string]string
	// From and To bound the date window for transactional collections. Zero values are ignored.
	From time.Time
	To   time.Time
}

// QueryOptions tunes how a single query is executed.
type QueryOptions struct {
	// Timeout bounds every attempt. Zero means DefaultTimeout, NoTimeout waits indefinitely.
	Timeout time.Duration
	// MaxAttempts bounds the number of attempts for retryable failures.
	MaxAttempts int
	// Backoff is the initial wait between attempts.
	Backoff time.Duration
	// Category is a free label ("masters", "vouchers") used for logging and tuning.
	Category string
}

// Querier is implemented by clients of the accounting engine.
type Querier interface {
	// Query returns every record matching request. Failures are reported as *Error.
	Query(ctx context.Context, request QueryDescriptor, opts QueryOptions) ([]Record, error)
}

// EffectiveTimeout resolves the per attempt timeout; the boolean is false when no timeout applies.
func (o QueryOptions) EffectiveTimeout() (time.Duration, bool) {
	switch {
	case o.Timeout == NoTimeout:
		return 0, false
	case o.Timeout <= 0:
		return DefaultTimeout, true
	default:
		return o.Timeout, true
	}
}

func (o QueryOptions) attempts() int {
	if o.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return o.MaxAttempts
}

func (o QueryOptions) backoff() time.Duration {
	if o.Backoff <= 0 {
		return DefaultBackoff
	}
	return o.Backoff
}
