// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package ledger persists the outcome of every sync run: one live record per
// tenant and entity type, plus an append only history used for inspection.
package ledger

import (
	"context"
	"time"
)

// Mode is the way a sync run selected its records.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeCustom      Mode = "custom"
	ModeFailed      Mode = "failed"
	// ModeReset marks a record cleared by an operator: the next run is a full one
	// even when rows of the entity type are already stored.
	ModeReset Mode = "reset"
)

// SyncRecord is the live bookkeeping of the last run for one tenant and entity type.
type SyncRecord struct {
	// LastSyncAt is the start time of the last successful run.
	LastSyncAt      *time.Time `json:"lastSyncAt"`
	LastMode        Mode       `json:"lastMode"`
	LastRecordCount int        `json:"lastRecordCount"`
	LastDurationMs  int64      `json:"lastDurationMs"`
	LastError       string     `json:"lastError,omitempty"`
}

// HistoryEntry is an immutable audit row describing one run.
type HistoryEntry struct {
	ID         int64  `json:"id"`
	RunID      string `json:"runId"`
	Tenant     string `json:"tenant"`
	EntityType string `json:"entityType"`

	SyncRecord

	StartedAt time.Time  `json:"startedAt"`
	FromDate  *time.Time `json:"fromDate,omitempty"`
	ToDate    *time.Time `json:"toDate,omitempty"`
}

// Store is the persistence contract of the ledger.
type Store interface {
	// GetLastSync returns the live record, or nil when the pair was never synced.
	GetLastSync(ctx context.Context, tenant, entityType string) (*SyncRecord, error)
	// UpdateLastSync replaces the live record.
	UpdateLastSync(ctx context.Context, tenant, entityType string, record SyncRecord) error
	// AppendHistory inserts a new history row.
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	// Reset replaces the live records of tenant with a ModeReset record without sync time,
	// limited to entityTypes when any is given, so that the next run is a full one.
	// Every named entity type gets a reset record even when it was never synced.
	// It returns the number of records that held a sync state.
	Reset(ctx context.Context, tenant string, entityTypes ...string) (int64, error)
	// RecentHistory returns the newest history rows first. An empty entityType matches every type.
	RecentHistory(ctx context.Context, tenant, entityType string, limit int) ([]HistoryEntry, error)
}

// Cleared returns the record stored by Reset.
func Cleared() SyncRecord {
	return SyncRecord{LastMode: ModeReset}
}

// Failed returns the record stored after a failed run: the previous
// successful sync time is preserved so the next incremental window still
// starts from data known to be committed.
func Failed(previous *SyncRecord, recordCount int, duration time.Duration, err error) SyncRecord {
	record := SyncRecord{
		LastMode:        ModeFailed,
		LastRecordCount: recordCount,
		LastDurationMs:  duration.Milliseconds(),
	}
	if err != nil {
		record.LastError = err.Error()
	}
	if previous != nil && previous.LastSyncAt != nil {
		lastSyncAt := *previous.LastSyncAt
		record.LastSyncAt = &lastSyncAt
	}
	return record
}
