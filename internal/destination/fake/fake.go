// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package fake

import (
	"context"
	"sync"
	"testing"

	"github.com/mia-platform/tallysync/internal/destination"
)

var _ destination.Upserter = &FakeDestination{}

// FailFunc decides the outcome of the call-th upsert (starting from 1) before it is applied.
// A nil return lets the batch through.
type FailFunc func(ctx context.Context, call int, batch destination.Batch) error

// FakeDestination keeps upserted rows in memory keyed by table and conflict key.
type FakeDestination struct {
	tb testing.TB

	lock   sync.Mutex
	fail   FailFunc
	calls  int
	tables map[string]map[string]map[string]any

	Batches []destination.Batch
}

func NewFakeDestination(tb testing.TB) *FakeDestination {
	tb.Helper()
	return &FakeDestination{
		tb:     tb,
		tables: make(map[string]map[string]map[string]any),
	}
}

// WithFailures installs fail as the outcome hook for the next upserts.
func (f *FakeDestination) WithFailures(fail FailFunc) *FakeDestination {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.fail = fail
	return f
}

func (f *FakeDestination) Upsert(ctx context.Context, batch destination.Batch) (int64, error) {
	f.tb.Helper()

	f.lock.Lock()
	f.calls++
	call := f.calls
	fail := f.fail
	f.lock.Unlock()

	if fail != nil {
		if err := fail(ctx, call, batch); err != nil {
			return 0, err
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	table, ok := f.tables[batch.Table]
	if !ok {
		table = make(map[string]map[string]any)
		f.tables[batch.Table] = table
	}

	records := batch.Records()
	for idx, row := range batch.Rows {
		table[batch.Key(row)] = records[idx]
	}
	f.Batches = append(f.Batches, batch)
	return int64(len(batch.Rows)), nil
}

// Calls returns the number of upserts received, failed ones included.
func (f *FakeDestination) Calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

// Rows returns the rows currently stored for table.
func (f *FakeDestination) Rows(table string) []map[string]any {
	f.lock.Lock()
	defer f.lock.Unlock()

	rows := make([]map[string]any, 0, len(f.tables[table]))
	for _, row := range f.tables[table] {
		rows = append(rows, row)
	}
	return rows
}
