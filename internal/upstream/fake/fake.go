// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package fake

import (
	"context"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/mia-platform/tallysync/internal/upstream"
)

// Response is a scripted answer for one query attempt.
type Response struct {
	Records []upstream.Record
	Err     error
	// Delay blocks the attempt before answering, honouring the attempt context.
	Delay time.Duration
}

// Call records one attempt received by the fake.
type Call struct {
	Request upstream.QueryDescriptor
	Options upstream.QueryOptions
}

var _ upstream.Querier = &FakeQuerier{}

// FakeQuerier is a scripted upstream.Querier. Scripted responses are consumed
// one per attempt and the last one is repeated; attempts are driven by
// upstream.Retry like a real client.
type FakeQuerier struct {
	tb testing.TB

	lock      sync.Mutex
	responses map[string][]Response
	calls     []Call
}

// NewFakeQuerier returns a querier that answers with no records until scripted.
func NewFakeQuerier(tb testing.TB) *FakeQuerier {
	tb.Helper()

	return &FakeQuerier{
		tb:        tb,
		responses: make(map[string][]Response),
	}
}

// On appends responses for queries on collection.
func (f *FakeQuerier) On(collection string, responses ...Response) *FakeQuerier {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.responses[collection] = append(f.responses[collection], responses...)
	return f
}

// Calls returns every attempt received so far.
func (f *FakeQuerier) Calls() []Call {
	f.lock.Lock()
	defer f.lock.Unlock()

	calls := make([]Call, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// Query implements upstream.Querier. Returned records are filtered by the request filters.
func (f *FakeQuerier) Query(ctx context.Context, request upstream.QueryDescriptor, opts upstream.QueryOptions) ([]upstream.Record, error) {
	f.tb.Helper()

	var records []upstream.Record
	err := upstream.Retry(ctx, opts, func(ctx context.Context) error {
		response := f.next(request, opts)
		if response.Delay > 0 {
			timer := time.NewTimer(response.Delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return upstream.NewError(upstream.KindTimeout, "fake "+request.Collection, ctx.Err())
			case <-timer.C:
			}
		}

		if response.Err != nil {
			return response.Err
		}
		records = filter(response.Records, request.Filters)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (f *FakeQuerier) next(request upstream.QueryDescriptor, opts upstream.QueryOptions) Response {
	f.lock.Lock()
	defer f.lock.Unlock()

	recorded := request
	recorded.Filters = maps.Clone(request.Filters)
	f.calls = append(f.calls, Call{Request: recorded, Options: opts})

	queue := f.responses[request.Collection]
	switch len(queue) {
	case 0:
		return Response{}
	case 1:
		return queue[0]
	default:
		f.responses[request.Collection] = queue[1:]
		return queue[0]
	}
}

func filter(records []upstream.Record, filters map[string]string) []upstream.Record {
	filtered := make([]upstream.Record, 0, len(records))
	for _, record := range records {
		matches := true
		for field, expected := range filters {
			if value, ok := record[field].(string); !ok || value != expected {
				matches = false
				break
			}
		}
		if matches {
			filtered = append(filtered, record)
		}
	}
	return filtered
}
