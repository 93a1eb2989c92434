// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package progress keeps the live state of the ingestion run of every entity type.
// The state is never persisted: a restart loses it but not the committed batches.
package progress

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const recentBatches = 10

// State is a snapshot of the ingestion of one entity type.
type State struct {
	EntityType   string    `json:"entityType"`
	InProgress   bool      `json:"inProgress"`
	Total        int       `json:"total"`
	Current      int       `json:"current"`
	CurrentBatch int       `json:"currentBatch"`
	TotalBatches int       `json:"totalBatches"`
	StartTime    time.Time `json:"startTime,omitzero"`
	Percent      float64   `json:"percent"`
	AvgBatchMs   int64     `json:"avgBatchMs"`
	ETAMs        int64     `json:"etaMs"`
}

type tracker struct {
	state     State
	durations []time.Duration
}

// Registry holds at most one live State per entity type. It is safe for concurrent use.
type Registry struct {
	lock     sync.RWMutex
	trackers map[string]*tracker
	nowFn    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		trackers: make(map[string]*tracker),
		nowFn:    time.Now,
	}
}

// Start replaces any previous state of entityType with a new run of total records split in totalBatches.
func (r *Registry) Start(entityType string, total, totalBatches int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.trackers[entityType] = &tracker{
		state: State{
			EntityType:   entityType,
			InProgress:   true,
			Total:        total,
			TotalBatches: totalBatches,
			StartTime:    r.nowFn(),
		},
		durations: make([]time.Duration, 0, recentBatches),
	}
}

// Advance records the outcome of a batch: batch is its 1-based position,
// committed the records written and duration the wall clock time of the write.
func (r *Registry) Advance(entityType string, batch, committed int, duration time.Duration) {
	r.lock.Lock()
	defer r.lock.Unlock()

	current, ok := r.trackers[entityType]
	if !ok {
		return
	}

	current.state.Current = min(current.state.Current+committed, current.state.Total)
	current.state.CurrentBatch = max(current.state.CurrentBatch, batch)
	if duration > 0 {
		if len(current.durations) >= recentBatches {
			current.durations = current.durations[1:]
		}
		current.durations = append(current.durations, duration)
	}
}

// Clear drops the state of entityType once its run has ended, successfully or not.
func (r *Registry) Clear(entityType string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.trackers, entityType)
}

// Get returns the state of entityType; the zero State with InProgress false is returned when nothing runs.
func (r *Registry) Get(entityType string) State {
	r.lock.RLock()
	defer r.lock.RUnlock()

	current, ok := r.trackers[entityType]
	if !ok {
		return State{EntityType: entityType}
	}
	return current.snapshot()
}

// All returns the state of every running entity type sorted by name.
func (r *Registry) All() []State {
	r.lock.RLock()
	defer r.lock.RUnlock()

	states := make([]State, 0, len(r.trackers))
	for _, current := range r.trackers {
		states = append(states, current.snapshot())
	}
	slices.SortFunc(states, func(a, b State) int {
		return strings.Compare(a.EntityType, b.EntityType)
	})
	return states
}

func (t *tracker) snapshot() State {
	state := t.state
	if state.Total == 0 {
		state.Percent = 100
	} else {
		state.Percent = float64(state.Current) * 100 / float64(state.Total)
	}

	if len(t.durations) == 0 {
		return state
	}

	var sum time.Duration
	for _, duration := range t.durations {
		sum += duration
	}
	average := sum / time.Duration(len(t.durations))
	state.AvgBatchMs = average.Milliseconds()
	if remaining := state.TotalBatches - state.CurrentBatch; remaining > 0 {
		state.ETAMs = (average * time.Duration(remaining)).Milliseconds()
	}
	return state
}
