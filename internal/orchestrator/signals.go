// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package orchestrator

import (
	"context"
	"slices"
	"sync"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/pipeline"
)

var _ pipeline.Notifier = &Signals{}

// Signals collects the entity types changed by the pipeline during a run, so
// that the aggregates of every tenant are refreshed once per run.
type Signals struct {
	lock    sync.Mutex
	pending map[string][]string
}

func NewSignals() *Signals {
	return &Signals{
		pending: make(map[string][]string),
	}
}

func (s *Signals) SyncCompleted(_ context.Context, tenant string, entity config.Entity, _ pipeline.Result) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !slices.Contains(s.pending[tenant], entity.Type) {
		s.pending[tenant] = append(s.pending[tenant], entity.Type)
	}
}

// Drain returns the collected entity types by tenant and forgets them.
func (s *Signals) Drain() map[string][]string {
	s.lock.Lock()
	defer s.lock.Unlock()

	drained := s.pending
	s.pending = make(map[string][]string)
	return drained
}
