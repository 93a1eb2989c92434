// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package mode decides how each entity type of a tenant is synchronized:
// a full pull over a wide window, an incremental pull since the last run, or
// a caller supplied custom range.
package mode

import (
	"context"
	"fmt"
	"time"

	"github.com/mia-platform/tallysync/internal/ledger"
)

const (
	DefaultFullWindow         = 365 * 24 * time.Hour
	DefaultStaleAfter         = 7 * 24 * time.Hour
	DefaultIncrementalOverlap = 24 * time.Hour
)

// Reason explains a Decision.
type Reason string

const (
	ReasonUserRequested   Reason = "user_requested"
	ReasonCustomDateRange Reason = "custom_date_range"
	ReasonFirstSync       Reason = "first_sync"
	ReasonStaleData       Reason = "stale_data"
	ReasonIncremental     Reason = "incremental"
)

// Policy holds the tunable windows of the selector.
type Policy struct {
	// FullWindow is how far back a full sync reaches.
	FullWindow time.Duration
	// StaleAfter is the age of the last sync beyond which a full sync is used instead of an incremental one.
	StaleAfter time.Duration
	// IncrementalOverlap is subtracted from the last sync time to absorb clock skew and late records.
	IncrementalOverlap time.Duration
}

// DefaultPolicy returns the one year window, seven days staleness and one day overlap policy.
func DefaultPolicy() Policy {
	return Policy{
		FullWindow:         DefaultFullWindow,
		StaleAfter:         DefaultStaleAfter,
		IncrementalOverlap: DefaultIncrementalOverlap,
	}
}

// SyncedAtReader returns the most recent synced_at already stored for the rows of an entity type.
type SyncedAtReader interface {
	MaxSyncedAt(ctx context.Context, table, tenant string) (*time.Time, error)
}

// Request is the input of Decide.
type Request struct {
	Tenant     string
	EntityType string
	// Table is where rows of EntityType are stored; it is read only when the ledger has no record at all.
	Table     string
	StartDate *time.Time
	EndDate   *time.Time
	ForceFull bool
}

// Decision is the outcome of Decide.
type Decision struct {
	Mode   ledger.Mode `json:"mode"`
	From   time.Time   `json:"fromDate"`
	To     time.Time   `json:"toDate"`
	Reason Reason      `json:"reason"`
}

// Selector decides the sync mode from the ledger state. It has no side effects.
type Selector struct {
	ledger   ledger.Store
	syncedAt SyncedAtReader
	policy   Policy
	nowFn    func() time.Time
}

// NewSelector returns a selector reading from store. syncedAt can be nil, disabling the fallback
// for ledgers created before sync tracking existed.
func NewSelector(store ledger.Store, syncedAt SyncedAtReader, policy Policy) *Selector {
	return &Selector{
		ledger:   store,
		syncedAt: syncedAt,
		policy:   policy,
		nowFn:    time.Now,
	}
}

// Decide returns the mode, window and reason for the next run of request.EntityType.
func (s *Selector) Decide(ctx context.Context, request Request) (Decision, error) {
	now := s.nowFn().UTC()
	decision := Decision{To: now}
	if request.EndDate != nil {
		decision.To = request.EndDate.UTC()
	}

	fullDecision := func(reason Reason) (Decision, error) {
		decision.Mode = ledger.ModeFull
		decision.From = now.Add(-s.policy.FullWindow)
		decision.Reason = reason
		return decision, nil
	}

	if request.ForceFull {
		return fullDecision(ReasonUserRequested)
	}

	if request.StartDate != nil {
		decision.Mode = ledger.ModeCustom
		decision.From = request.StartDate.UTC()
		decision.Reason = ReasonCustomDateRange
		return decision, nil
	}

	lastSyncAt, err := s.lastSyncAt(ctx, request)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case lastSyncAt == nil:
		return fullDecision(ReasonFirstSync)
	case now.Sub(*lastSyncAt) > s.policy.StaleAfter:
		return fullDecision(ReasonStaleData)
	default:
		decision.Mode = ledger.ModeIncremental
		decision.From = lastSyncAt.UTC().Add(-s.policy.IncrementalOverlap)
		decision.Reason = ReasonIncremental
		return decision, nil
	}
}

func (s *Selector) lastSyncAt(ctx context.Context, request Request) (*time.Time, error) {
	record, err := s.ledger.GetLastSync(ctx, request.Tenant, request.EntityType)
	if err != nil {
		return nil, fmt.Errorf("reading sync ledger: %w", err)
	}
	if record != nil {
		// failed first runs and reset records carry no sync time and never fall back to stored rows
		return record.LastSyncAt, nil
	}

	if s.syncedAt == nil || request.Table == "" {
		return nil, nil
	}

	// rows written before the ledger existed still bound the incremental window
	syncedAt, err := s.syncedAt.MaxSyncedAt(ctx, request.Table, request.Tenant)
	if err != nil {
		return nil, fmt.Errorf("reading stored rows: %w", err)
	}
	return syncedAt, nil
}
