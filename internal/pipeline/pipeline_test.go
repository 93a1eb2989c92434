// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package pipeline

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/destination"
	fakedestination "github.com/mia-platform/tallysync/internal/destination/fake"
	"github.com/mia-platform/tallysync/internal/ledger"
	"github.com/mia-platform/tallysync/internal/progress"
	"github.com/mia-platform/tallysync/internal/upstream"
	fakeupstream "github.com/mia-platform/tallysync/internal/upstream/fake"
)

const testTenant = "T"

var (
	testFrom = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	testTo   = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
)

func voucherRecords(count int) []upstream.Record {
	records := make([]upstream.Record, 0, count)
	for idx := range count {
		records = append(records, upstream.Record{
			"GUID":            fmt.Sprintf("v-%03d", idx),
			"VOUCHERNUMBER":   fmt.Sprintf("S/%d", idx),
			"VOUCHERTYPENAME": "Sales",
			"DATE":            "20260105",
			"PARTYLEDGERNAME": "Acme Traders",
			"AMOUNT":          "1,250.50",
		})
	}
	return records
}

func testEntity(tb testing.TB, entityType string) config.Entity {
	tb.Helper()

	catalog, err := config.DefaultCatalog()
	require.NoError(tb, err)
	entity, ok := catalog.Lookup(entityType)
	require.True(tb, ok)
	return entity
}

func testRequest(tb testing.TB) Request {
	tb.Helper()

	return Request{
		RunID:  "run-1",
		Tenant: testTenant,
		Entity: testEntity(tb, "transactions"),
		Mode:   ledger.ModeFull,
		From:   testFrom,
		To:     testTo,
	}
}

type recordingNotifier struct {
	lock    sync.Mutex
	results []Result
}

func (n *recordingNotifier) SyncCompleted(_ context.Context, _ string, _ config.Entity, result Result) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.results = append(n.results, result)
}

type clock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func TestRunFirstFullSync(t *testing.T) {
	t.Parallel()

	querier := fakeupstream.NewFakeQuerier(t).On("Voucher", fakeupstream.Response{Records: voucherRecords(130)})
	dst := fakedestination.NewFakeDestination(t)
	store := ledger.NewMemoryStore()
	registry := progress.NewRegistry()
	notifier := &recordingNotifier{}

	start := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	testClock := &clock{now: start}
	pipeline := New(querier, dst, store, registry, Options{Notifier: notifier})
	pipeline.nowFn = testClock.Now

	result, err := pipeline.Run(t.Context(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, 130, result.SyncedCount)
	assert.Equal(t, 130, result.Total)
	assert.Zero(t, result.Skipped)
	assert.Empty(t, result.Errors)
	assert.Equal(t, ledger.ModeFull, result.Mode)

	require.Len(t, dst.Batches, 3)
	assert.Len(t, dst.Batches[0].Rows, 50)
	assert.Len(t, dst.Batches[1].Rows, 50)
	assert.Len(t, dst.Batches[2].Rows, 30)
	assert.Equal(t, []string{config.TenantColumn, "guid"}, dst.Batches[0].ConflictKey)
	assert.Len(t, dst.Rows("transactions"), 130)

	firstRow := dst.Batches[0].Records()[0]
	assert.Equal(t, testTenant, firstRow[config.TenantColumn])
	assert.Equal(t, "v-000", firstRow["guid"])
	assert.InDelta(t, 1250.5, firstRow["amount"], 0.001)
	assert.Equal(t, false, firstRow["is_cancelled"])
	assert.Equal(t, start, firstRow[config.SyncedAtColumn])

	calls := querier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, testFrom, calls[0].Request.From)
	assert.Equal(t, testTo, calls[0].Request.To)
	assert.Equal(t, testTenant, calls[0].Request.Company)
	assert.Equal(t, "vouchers", calls[0].Options.Category)

	record, err := store.GetLastSync(t.Context(), testTenant, "transactions")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, ledger.ModeFull, record.LastMode)
	assert.Equal(t, 130, record.LastRecordCount)
	assert.Equal(t, start, *record.LastSyncAt)
	assert.Empty(t, record.LastError)

	history, err := store.RecentHistory(t.Context(), testTenant, "transactions", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "run-1", history[0].RunID)
	assert.Equal(t, testFrom, *history[0].FromDate)

	assert.False(t, registry.Get("transactions").InProgress)
	require.Len(t, notifier.results, 1)
	assert.Equal(t, 130, notifier.results[0].SyncedCount)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	querier := fakeupstream.NewFakeQuerier(t).On("Voucher", fakeupstream.Response{Records: voucherRecords(75)})
	dst := fakedestination.NewFakeDestination(t)
	pipeline := New(querier, dst, ledger.NewMemoryStore(), nil, Options{})

	for range 2 {
		result, err := pipeline.Run(t.Context(), testRequest(t))
		require.NoError(t, err)
		assert.Equal(t, 75, result.SyncedCount)
	}

	assert.Len(t, dst.Rows("transactions"), 75)
	assert.Len(t, dst.Batches, 4)
}

func TestRunFailedBatches(t *testing.T) {
	t.Parallel()

	writeErr := errors.New("constraint violated")
	testCases := map[string]struct {
		failingCalls   []int
		expectedSynced int
		expectedCalls  int
		expectedErrors []BatchError
	}{
		"batch succeeding on retry": {
			failingCalls:   []int{2},
			expectedSynced: 130,
			expectedCalls:  4,
			expectedErrors: []BatchError{},
		},
		"batch failing on retry too": {
			failingCalls:   []int{2, 4},
			expectedSynced: 80,
			expectedCalls:  4,
			expectedErrors: []BatchError{
				{
					Tenant: testTenant, EntityType: "transactions",
					Batch: 2, Records: 50, Error: "constraint violated", RetryError: "constraint violated",
				},
			},
		},
		"two batches failing once": {
			failingCalls:   []int{1, 3},
			expectedSynced: 130,
			expectedCalls:  5,
			expectedErrors: []BatchError{},
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			querier := fakeupstream.NewFakeQuerier(t).On("Voucher", fakeupstream.Response{Records: voucherRecords(130)})
			dst := fakedestination.NewFakeDestination(t).WithFailures(func(_ context.Context, call int, _ destination.Batch) error {
				for _, failing := range test.failingCalls {
					if call == failing {
						return writeErr
					}
				}
				return nil
			})
			store := ledger.NewMemoryStore()

			result, err := New(querier, dst, store, nil, Options{}).Run(t.Context(), testRequest(t))
			require.NoError(t, err)

			assert.Equal(t, test.expectedSynced, result.SyncedCount)
			assert.Equal(t, 130, result.Total)
			assert.Equal(t, test.expectedErrors, result.Errors)
			assert.Equal(t, test.expectedCalls, dst.Calls())
			assert.Len(t, dst.Rows("transactions"), test.expectedSynced)

			record, err := store.GetLastSync(t.Context(), testTenant, "transactions")
			require.NoError(t, err)
			assert.Equal(t, ledger.ModeFull, record.LastMode)
			assert.Equal(t, test.expectedSynced, record.LastRecordCount)
			if len(test.expectedErrors) > 0 {
				assert.Equal(t, "1 batches failed after retry", record.LastError)
			}
		})
	}
}

func TestRunPausesOnTransientErrors(t *testing.T) {
	t.Parallel()

	querier := fakeupstream.NewFakeQuerier(t).On("Voucher", fakeupstream.Response{Records: voucherRecords(60)})
	dst := fakedestination.NewFakeDestination(t).WithFailures(func(_ context.Context, call int, _ destination.Batch) error {
		if call == 1 {
			return driver.ErrBadConn
		}
		return nil
	})

	pipeline := New(querier, dst, ledger.NewMemoryStore(), nil, Options{TransientPause: 20 * time.Millisecond})
	started := time.Now()
	result, err := pipeline.Run(t.Context(), testRequest(t))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)
	assert.Equal(t, 60, result.SyncedCount)
	assert.Empty(t, result.Errors)
}

func TestRunSkipsUnmappableRecords(t *testing.T) {
	t.Parallel()

	records := voucherRecords(10)
	delete(records[3], "GUID")
	delete(records[7], "VOUCHERTYPENAME")
	records[8]["DATE"] = "not a date"

	querier := fakeupstream.NewFakeQuerier(t).On("Voucher", fakeupstream.Response{Records: records})
	dst := fakedestination.NewFakeDestination(t)

	result, err := New(querier, dst, ledger.NewMemoryStore(), nil, Options{}).Run(t.Context(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, 7, result.SyncedCount)
	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 3, result.Skipped)
	assert.Len(t, dst.Rows("transactions"), 7)
}

func TestRunStallDetected(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		threshold time.Duration
		fail      func(testClock *clock) fakedestination.FailFunc
	}{
		"idle time beyond the threshold": {
			threshold: 10 * time.Minute,
			fail: func(testClock *clock) fakedestination.FailFunc {
				return func(_ context.Context, call int, _ destination.Batch) error {
					if call == 2 {
						testClock.Advance(11 * time.Minute)
						return errors.New("connection reset")
					}
					return nil
				}
			},
		},
		"write hanging past the threshold": {
			threshold: 50 * time.Millisecond,
			fail: func(testClock *clock) fakedestination.FailFunc {
				return func(ctx context.Context, call int, _ destination.Batch) error {
					if call == 2 {
						<-ctx.Done()
						testClock.Advance(time.Second)
						return ctx.Err()
					}
					return nil
				}
			},
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			previousSync := time.Date(2026, time.February, 20, 0, 0, 0, 0, time.UTC)
			store := ledger.NewMemoryStore()
			require.NoError(t, store.UpdateLastSync(t.Context(), testTenant, "transactions", ledger.SyncRecord{
				LastSyncAt: &previousSync,
				LastMode:   ledger.ModeIncremental,
			}))

			testClock := &clock{now: time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)}
			querier := fakeupstream.NewFakeQuerier(t).On("Voucher", fakeupstream.Response{Records: voucherRecords(200)})
			dst := fakedestination.NewFakeDestination(t).WithFailures(test.fail(testClock))
			registry := progress.NewRegistry()
			notifier := &recordingNotifier{}

			pipeline := New(querier, dst, store, registry, Options{
				StallThreshold: test.threshold,
				TransientPause: time.Millisecond,
				Notifier:       notifier,
			})
			pipeline.nowFn = testClock.Now

			result, err := pipeline.Run(t.Context(), testRequest(t))
			require.ErrorIs(t, err, ErrStallDetected)

			var stallErr *StallError
			require.ErrorAs(t, err, &stallErr)
			assert.Equal(t, 2, stallErr.Remaining)
			assert.Equal(t, 50, result.SyncedCount)
			assert.Equal(t, 2, dst.Calls())

			record, err := store.GetLastSync(t.Context(), testTenant, "transactions")
			require.NoError(t, err)
			assert.Equal(t, ledger.ModeFailed, record.LastMode)
			assert.Equal(t, previousSync, *record.LastSyncAt)
			assert.Contains(t, record.LastError, "sync appears stuck")

			history, err := store.RecentHistory(t.Context(), testTenant, "transactions", 1)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, ledger.ModeFailed, history[0].LastMode)

			assert.False(t, registry.Get("transactions").InProgress)
			assert.Len(t, notifier.results, 1)
		})
	}
}

func TestRunFetchFailures(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		response      fakeupstream.Response
		expectedErr   error
		expectedCalls int
	}{
		"protocol error aborts at once": {
			response:      fakeupstream.Response{Err: upstream.NewError(upstream.KindProtocol, "export", errors.New("LINEERROR"))},
			expectedErr:   upstream.ErrUpstreamProtocol,
			expectedCalls: 1,
		},
		"unreachable upstream exhausts the attempts": {
			response:      fakeupstream.Response{Err: upstream.NewError(upstream.KindUnreachable, "export", errors.New("connection refused"))},
			expectedErr:   upstream.ErrUpstreamUnreachable,
			expectedCalls: 3,
		},
		"slow upstream times out": {
			response:      fakeupstream.Response{Delay: time.Second},
			expectedErr:   upstream.ErrUpstreamTimeout,
			expectedCalls: 2,
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			querier := fakeupstream.NewFakeQuerier(t).On("Voucher", test.response)
			dst := fakedestination.NewFakeDestination(t)
			store := ledger.NewMemoryStore()
			notifier := &recordingNotifier{}

			pipeline := New(querier, dst, store, nil, Options{
				Notifier: notifier,
				Query: upstream.QueryOptions{
					Timeout:     10 * time.Millisecond,
					MaxAttempts: test.expectedCalls,
					Backoff:     time.Millisecond,
				},
			})

			result, err := pipeline.Run(t.Context(), testRequest(t))
			require.ErrorIs(t, err, test.expectedErr)
			assert.Len(t, querier.Calls(), test.expectedCalls)
			assert.Zero(t, result.SyncedCount)
			assert.Equal(t, err.Error(), result.Error)
			assert.Zero(t, dst.Calls())
			assert.Empty(t, notifier.results)

			record, err := store.GetLastSync(t.Context(), testTenant, "transactions")
			require.NoError(t, err)
			assert.Equal(t, ledger.ModeFailed, record.LastMode)
			assert.Nil(t, record.LastSyncAt)
		})
	}
}

func TestMasterEntitiesIgnoreTheDateWindow(t *testing.T) {
	t.Parallel()

	querier := fakeupstream.NewFakeQuerier(t).On("Ledger", fakeupstream.Response{Records: []upstream.Record{
		{"GUID": "l-1", "NAME": "Acme Supplies", "PARENT": "Sundry Creditors", "CLOSINGBALANCE": "500.00 Cr"},
		{"GUID": "l-2", "NAME": "Beta Retail", "PARENT": "Sundry Debtors"},
	}})
	dst := fakedestination.NewFakeDestination(t)

	request := testRequest(t)
	request.Entity = testEntity(t, "vendors")
	result, err := New(querier, dst, ledger.NewMemoryStore(), nil, Options{}).Run(t.Context(), request)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SyncedCount)
	calls := querier.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Request.From.IsZero())
	assert.Equal(t, map[string]string{"PARENT": "Sundry Creditors"}, calls[0].Request.Filters)
}

func TestPartition(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		records  int
		size     int
		expected []int
	}{
		"empty":         {records: 0, size: 50, expected: []int{}},
		"exact":         {records: 100, size: 50, expected: []int{50, 50}},
		"with leftover": {records: 130, size: 50, expected: []int{50, 50, 30}},
		"single":        {records: 3, size: 50, expected: []int{3}},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			sizes := make([]int, 0)
			for _, batch := range partition(voucherRecords(test.records), test.size) {
				sizes = append(sizes, len(batch))
			}
			assert.Equal(t, test.expected, sizes)
		})
	}
}
