// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/mia-platform/tallysync/internal/logger"
)

// Start runs a sync immediately and then every Interval, and refreshes the
// aggregates of the configured tenants every AggregateRefreshInterval, until ctx is done.
func (o *Orchestrator) Start(ctx context.Context) {
	log := logger.FromContext(ctx).WithName(loggerName)
	log.Info("starting scheduler", "interval", o.opts.Interval, "tenants", o.opts.Tenants)

	o.scheduler.Add(1)
	go func() {
		defer o.scheduler.Done()
		o.syncLoop(ctx)
	}()

	if o.opts.AggregateRefreshInterval > 0 {
		o.scheduler.Add(1)
		go func() {
			defer o.scheduler.Done()
			o.refreshLoop(ctx)
		}()
	}
}

func (o *Orchestrator) syncLoop(ctx context.Context) {
	log := logger.FromContext(ctx).WithName(loggerName)

	interval := o.opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		o.scheduleNext(interval)
		_, err := o.Trigger(ctx, Request{})
		switch {
		case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrTooSoon):
			log.Debug("scheduled sync skipped", "reason", err)
		case err != nil:
			log.Warn("scheduled sync failed", "error", err)
		}

		select {
		case <-ctx.Done():
			log.Debug("sync scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) refreshLoop(ctx context.Context) {
	log := logger.FromContext(ctx).WithName(loggerName)

	ticker := time.NewTicker(o.opts.AggregateRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("aggregate scheduler stopped")
			return
		case <-ticker.C:
		}

		if o.Status().IsRunning {
			log.Debug("sync in progress, aggregate refresh postponed")
			continue
		}
		if _, err := o.refresher.RefreshTenants(ctx, o.opts.Tenants, false); err != nil {
			log.Warn("aggregate refresh failed", "error", err)
		}
	}
}

func (o *Orchestrator) scheduleNext(interval time.Duration) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.nextSyncAt = o.nowFn().Add(interval)
}

// Shutdown waits for the scheduler loops, which stop when the context given
// to Start is done, and for the run in flight to drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.scheduler.Wait()
		o.inFlight.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
