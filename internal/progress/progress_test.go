// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	startTime := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	registry := NewRegistry()
	registry.nowFn = func() time.Time { return startTime }

	assert.Equal(t, State{EntityType: "transactions"}, registry.Get("transactions"))

	registry.Start("transactions", 130, 3)
	registry.Advance("transactions", 1, 50, 100*time.Millisecond)
	registry.Advance("transactions", 2, 50, 300*time.Millisecond)

	state := registry.Get("transactions")
	assert.True(t, state.InProgress)
	assert.Equal(t, 100, state.Current)
	assert.Equal(t, 2, state.CurrentBatch)
	assert.Equal(t, 3, state.TotalBatches)
	assert.Equal(t, startTime, state.StartTime)
	assert.InDelta(t, 76.92, state.Percent, 0.01)
	assert.Equal(t, int64(200), state.AvgBatchMs)
	assert.Equal(t, int64(200), state.ETAMs)

	registry.Clear("transactions")
	assert.False(t, registry.Get("transactions").InProgress)
}

func TestAdvance(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		total     int
		batches   int
		advance   func(r *Registry)
		expected  State
		entityKey string
	}{
		"failed batch moves the batch cursor only": {
			total:   100,
			batches: 2,
			advance: func(r *Registry) {
				r.Advance("vendors", 1, 0, 0)
			},
			expected: State{EntityType: "vendors", InProgress: true, Total: 100, CurrentBatch: 1, TotalBatches: 2},
		},
		"retried batch does not move the cursor back": {
			total:   100,
			batches: 2,
			advance: func(r *Registry) {
				r.Advance("vendors", 2, 50, 0)
				r.Advance("vendors", 1, 50, 0)
			},
			expected: State{EntityType: "vendors", InProgress: true, Total: 100, Current: 100, CurrentBatch: 2, TotalBatches: 2, Percent: 100},
		},
		"current never exceeds total": {
			total:   10,
			batches: 1,
			advance: func(r *Registry) {
				r.Advance("vendors", 1, 50, 0)
			},
			expected: State{EntityType: "vendors", InProgress: true, Total: 10, Current: 10, CurrentBatch: 1, TotalBatches: 1, Percent: 100},
		},
		"unknown entity is ignored": {
			total:   10,
			batches: 1,
			advance: func(r *Registry) {
				r.Advance("customers", 1, 10, time.Second)
			},
			expected: State{EntityType: "vendors", InProgress: true, Total: 10, TotalBatches: 1},
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			registry := NewRegistry()
			registry.nowFn = func() time.Time { return time.Time{} }
			registry.Start("vendors", test.total, test.batches)
			test.advance(registry)

			assert.Equal(t, test.expected, registry.Get("vendors"))
		})
	}
}

func TestMovingAverageKeepsLastBatches(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Start("transactions", 1000, 20)
	for batch := 1; batch <= 5; batch++ {
		registry.Advance("transactions", batch, 50, 10*time.Second)
	}
	for batch := 6; batch <= 15; batch++ {
		registry.Advance("transactions", batch, 50, time.Second)
	}

	state := registry.Get("transactions")
	assert.Equal(t, int64(1000), state.AvgBatchMs)
	assert.Equal(t, int64(5000), state.ETAMs)
}

func TestEmptyRunIsComplete(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Start("customers", 0, 0)
	registry.Start("vendors", 0, 0)

	states := registry.All()
	assert.Len(t, states, 2)
	assert.Equal(t, "customers", states[0].EntityType)
	assert.InDelta(t, 100, states[1].Percent, 0.0001)
}
