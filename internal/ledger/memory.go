// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package ledger

import (
	"context"
	"slices"
	"sync"
)

var _ Store = &MemoryStore{}

type recordKey struct {
	tenant     string
	entityType string
}

// MemoryStore is a process local Store, used for dry runs and tests.
type MemoryStore struct {
	lock    sync.RWMutex
	records map[recordKey]SyncRecord
	history []HistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]SyncRecord),
	}
}

func (s *MemoryStore) GetLastSync(_ context.Context, tenant, entityType string) (*SyncRecord, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	record, ok := s.records[recordKey{tenant: tenant, entityType: entityType}]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *MemoryStore) UpdateLastSync(_ context.Context, tenant, entityType string, record SyncRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.records[recordKey{tenant: tenant, entityType: entityType}] = record
	return nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, entry HistoryEntry) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry.ID = int64(len(s.history) + 1)
	s.history = append(s.history, entry)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, tenant string, entityTypes ...string) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var removed int64
	for key, record := range s.records {
		if key.tenant != tenant {
			continue
		}
		if len(entityTypes) > 0 && !slices.Contains(entityTypes, key.entityType) {
			continue
		}
		if record.LastMode != ModeReset {
			removed++
		}
		s.records[key] = Cleared()
	}
	for _, entityType := range entityTypes {
		key := recordKey{tenant: tenant, entityType: entityType}
		if _, ok := s.records[key]; !ok {
			s.records[key] = Cleared()
		}
	}
	return removed, nil
}

func (s *MemoryStore) RecentHistory(_ context.Context, tenant, entityType string, limit int) ([]HistoryEntry, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	entries := make([]HistoryEntry, 0)
	for idx := len(s.history) - 1; idx >= 0; idx-- {
		entry := s.history[idx]
		if entry.Tenant != tenant || (entityType != "" && entry.EntityType != entityType) {
			continue
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}
