// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/destination"
	"github.com/mia-platform/tallysync/internal/ledger"
	"github.com/mia-platform/tallysync/internal/logger"
	"github.com/mia-platform/tallysync/internal/mapper"
	"github.com/mia-platform/tallysync/internal/progress"
	"github.com/mia-platform/tallysync/internal/storage"
	"github.com/mia-platform/tallysync/internal/upstream"
)

const (
	loggerName = "tallysync:pipeline"

	DefaultBatchSize      = 50
	DefaultStallThreshold = 10 * time.Minute
	DefaultTransientPause = 2 * time.Second
)

// Notifier is told about every run that may have changed stored rows.
type Notifier interface {
	SyncCompleted(ctx context.Context, tenant string, entity config.Entity, result Result)
}

// Options tunes a Pipeline; zero values are replaced by the defaults.
type Options struct {
	BatchSize      int
	StallThreshold time.Duration
	TransientPause time.Duration
	Query          upstream.QueryOptions
	Notifier       Notifier
	// IsTransient classifies write errors that deserve a pause before the next batch.
	IsTransient func(error) bool
}

// Request is one ingestion run of a single entity type.
type Request struct {
	RunID  string
	Tenant string
	Entity config.Entity
	Mode   ledger.Mode
	From   time.Time
	To     time.Time
}

// Result is always returned, even together with an error, and reports partial progress.
type Result struct {
	EntityType  string        `json:"entityType"`
	Mode        ledger.Mode   `json:"mode"`
	SyncedCount int           `json:"syncedCount"`
	Total       int           `json:"total"`
	Skipped     int           `json:"skipped"`
	Errors      []BatchError  `json:"errors"`
	Duration    time.Duration `json:"-"`
	DurationMs  int64         `json:"durationMs"`
	Error       string        `json:"error,omitempty"`
}

type Pipeline struct {
	querier     upstream.Querier
	destination destination.Upserter
	ledger      ledger.Store
	progress    *progress.Registry
	opts        Options

	nowFn func() time.Time
}

func New(querier upstream.Querier, dst destination.Upserter, store ledger.Store, registry *progress.Registry, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = DefaultStallThreshold
	}
	if opts.TransientPause <= 0 {
		opts.TransientPause = DefaultTransientPause
	}
	if opts.IsTransient == nil {
		opts.IsTransient = storage.IsTransient
	}
	if registry == nil {
		registry = progress.NewRegistry()
	}

	return &Pipeline{
		querier:     querier,
		destination: dst,
		ledger:      store,
		progress:    registry,
		opts:        opts,
		nowFn:       time.Now,
	}
}

// pendingBatch is a batch in flight: its position, raw records and prepared rows.
type pendingBatch struct {
	entityType string
	number     int
	raw        []upstream.Record
	batch      destination.Batch
	lastErr    error
}

// Run executes the fetch, batch loop and failed batch retry of request.
// Batch write failures never abort the run; fetch failures and stalls do.
// The outcome is recorded in the ledger in both cases.
func (p *Pipeline) Run(ctx context.Context, request Request) (Result, error) {
	entity := request.Entity
	log := logger.FromContext(ctx).WithName(loggerName).With(
		"tenant", request.Tenant,
		"entityType", entity.Type,
		"runId", request.RunID,
	)
	ctx = logger.WithContext(ctx, log)

	startedAt := p.nowFn().UTC()
	result := Result{
		EntityType: entity.Type,
		Mode:       request.Mode,
		Errors:     make([]BatchError, 0),
	}

	previous, err := p.ledger.GetLastSync(ctx, request.Tenant, entity.Type)
	if err != nil {
		log.Warn("cannot read previous sync record", "error", err)
	}

	log.Info("sync started", "mode", request.Mode, "from", request.From, "to", request.To)
	err = p.ingest(ctx, request, startedAt, &result)
	result.Duration = p.nowFn().Sub(startedAt)
	result.DurationMs = result.Duration.Milliseconds()

	record := ledger.SyncRecord{
		LastSyncAt:      &startedAt,
		LastMode:        request.Mode,
		LastRecordCount: result.SyncedCount,
		LastDurationMs:  result.DurationMs,
	}
	if err != nil {
		result.Error = err.Error()
		record = ledger.Failed(previous, result.SyncedCount, result.Duration, err)
		log.Error("sync failed", "error", err, "syncedCount", result.SyncedCount, "total", result.Total)
	} else {
		if len(result.Errors) > 0 {
			record.LastError = fmt.Sprintf("%d batches failed after retry", len(result.Errors))
		}
		log.Info("sync completed",
			"syncedCount", result.SyncedCount,
			"total", result.Total,
			"skipped", result.Skipped,
			"failedBatches", len(result.Errors),
			"durationMs", result.DurationMs,
		)
	}

	if recordErr := p.record(context.WithoutCancel(ctx), request, startedAt, record); recordErr != nil && err == nil {
		err = recordErr
		result.Error = err.Error()
	}

	if p.opts.Notifier != nil && result.SyncedCount > 0 {
		p.opts.Notifier.SyncCompleted(ctx, request.Tenant, entity, result)
	}
	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, request Request, syncedAt time.Time, result *Result) error {
	log := logger.FromContext(ctx)

	rowMapper, err := mapper.New(request.Entity)
	if err != nil {
		return fmt.Errorf("preparing %s mapping: %w", request.Entity.Type, err)
	}

	records, err := p.fetch(ctx, request)
	if err != nil {
		return err
	}
	result.Total = len(records)
	log.Debug("records fetched", "total", result.Total)

	batches := partition(records, p.opts.BatchSize)
	p.progress.Start(request.Entity.Type, len(records), len(batches))
	defer p.progress.Clear(request.Entity.Type)

	lastProgress := p.nowFn()
	failed := make([]*pendingBatch, 0)
	for idx, raw := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.checkStall(request.Entity.Type, lastProgress, len(batches)-idx); err != nil {
			return err
		}

		pending := &pendingBatch{entityType: request.Entity.Type, number: idx + 1, raw: raw}
		pending.batch, result.Skipped = p.prepare(ctx, rowMapper, request, raw, syncedAt, result.Skipped)
		if len(pending.batch.Rows) == 0 {
			p.progress.Advance(request.Entity.Type, pending.number, len(raw), 0)
			continue
		}

		written, err := p.write(ctx, pending, lastProgress)
		if err == nil {
			lastProgress = p.nowFn()
			result.SyncedCount += written
			continue
		}

		pending.lastErr = err
		failed = append(failed, pending)
		log.Warn("batch write failed, retrying after the main pass", "batch", pending.number, "error", err)
		if p.opts.IsTransient(err) {
			if err := pause(ctx, p.opts.TransientPause); err != nil {
				return err
			}
		}
	}

	for idx, pending := range failed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.checkStall(request.Entity.Type, lastProgress, len(failed)-idx); err != nil {
			return err
		}

		firstErr := pending.lastErr
		written, err := p.write(ctx, pending, lastProgress)
		if err != nil {
			log.Error("batch write failed again", "batch", pending.number, "error", err)
			result.Errors = append(result.Errors, BatchError{
				Tenant:     request.Tenant,
				EntityType: request.Entity.Type,
				Batch:      pending.number,
				Records:    len(pending.raw),
				Error:      firstErr.Error(),
				RetryError: err.Error(),
			})
			continue
		}

		lastProgress = p.nowFn()
		result.SyncedCount += written
		log.Info("batch written on retry", "batch", pending.number)
	}
	return nil
}

func (p *Pipeline) fetch(ctx context.Context, request Request) ([]upstream.Record, error) {
	entity := request.Entity
	descriptor := upstream.QueryDescriptor{
		Company:    request.Tenant,
		Collection: entity.Collection,
		Fetch:      entity.Fetch,
		Filters:    entity.Filters,
	}
	if entity.DateWindow {
		descriptor.From = request.From
		descriptor.To = request.To
	}

	opts := p.opts.Query
	opts.Category = entity.Category
	records, err := p.querier.Query(ctx, descriptor, opts)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", entity.Type, err)
	}
	return records, nil
}

// prepare maps raw into the rows of one upsert; records that cannot be mapped are skipped.
func (p *Pipeline) prepare(ctx context.Context, rowMapper mapper.Mapper, request Request, raw []upstream.Record, syncedAt time.Time, skipped int) (destination.Batch, int) {
	log := logger.FromContext(ctx)
	entity := request.Entity

	columns := make([]string, 0, len(entity.Columns)+3)
	columns = append(columns, config.TenantColumn)
	columns = append(columns, entity.ColumnNames()...)
	columns = append(columns, config.SyncedAtColumn)

	batch := destination.Batch{
		Table:       entity.Table,
		Columns:     columns,
		ConflictKey: []string{config.TenantColumn, entity.NaturalKey.Column},
		Rows:        make([][]any, 0, len(raw)),
	}

	for _, record := range raw {
		mapped, err := rowMapper.ApplyTemplates(record)
		if err != nil {
			skipped++
			log.Warn("record skipped", "error", err)
			continue
		}

		row := make([]any, 0, len(columns))
		row = append(row, request.Tenant, mapped.Identifier)
		row = append(row, mapped.Values...)
		row = append(row, syncedAt)
		batch.Rows = append(batch.Rows, row)
	}
	return batch, skipped
}

// write applies one batch. The write is detached from ctx cancellation so a
// shutdown lets it finish, and it is bounded by what is left of the stall threshold.
func (p *Pipeline) write(ctx context.Context, pending *pendingBatch, lastProgress time.Time) (int, error) {
	remaining := p.opts.StallThreshold - p.nowFn().Sub(lastProgress)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remaining)
	defer cancel()

	started := p.nowFn()
	if _, err := p.destination.Upsert(writeCtx, pending.batch); err != nil {
		p.progress.Advance(pending.entityType, pending.number, 0, 0)
		return 0, err
	}

	p.progress.Advance(pending.entityType, pending.number, len(pending.raw), p.nowFn().Sub(started))
	return len(pending.batch.Rows), nil
}

func (p *Pipeline) checkStall(entityType string, lastProgress time.Time, remaining int) error {
	if idle := p.nowFn().Sub(lastProgress); idle >= p.opts.StallThreshold {
		return &StallError{EntityType: entityType, Idle: idle, Remaining: remaining}
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, request Request, startedAt time.Time, record ledger.SyncRecord) error {
	entry := ledger.HistoryEntry{
		RunID:      request.RunID,
		Tenant:     request.Tenant,
		EntityType: request.Entity.Type,
		SyncRecord: record,
		StartedAt:  startedAt,
	}
	if !request.From.IsZero() {
		entry.FromDate = &request.From
	}
	if !request.To.IsZero() {
		entry.ToDate = &request.To
	}

	var errs error
	if err := p.ledger.AppendHistory(ctx, entry); err != nil {
		errs = errors.Join(errs, fmt.Errorf("appending sync history: %w", err))
	}
	if err := p.ledger.UpdateLastSync(ctx, request.Tenant, request.Entity.Type, record); err != nil {
		errs = errors.Join(errs, fmt.Errorf("updating sync ledger: %w", err))
	}
	return errs
}

func partition(records []upstream.Record, size int) [][]upstream.Record {
	batches := make([][]upstream.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		batches = append(batches, records[start:min(start+size, len(records))])
	}
	return batches
}

func pause(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
