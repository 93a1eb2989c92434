// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package aggregate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mia-platform/tallysync/internal/cache"
	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/logger"
)

const (
	loggerName = "tallysync:aggregate"

	AgingFamily = "aging"
	StatsFamily = "stats"

	// DefaultRefreshConcurrency bounds how many tenants RefreshTenants recomputes at once.
	DefaultRefreshConcurrency = 2
)

// Strategy is how the aggregates of a tenant were brought up to date.
type Strategy string

const (
	StrategyViews   Strategy = "views"
	StrategyLegacy  Strategy = "legacy"
	StrategySkipped Strategy = "skipped"
)

// Outcome describes one AfterSync call.
type Outcome struct {
	Tenant      string   `json:"tenant"`
	Invalidated int      `json:"invalidated"`
	Strategy    Strategy `json:"strategy"`
	Error       string   `json:"error,omitempty"`
}

type tenantState struct {
	// seen is the newest synced_at covered by the last recomputation
	seen        time.Time
	refreshedAt time.Time
	degraded    bool
}

// Coordinator invalidates and recomputes the aggregates of tenants. It is safe for concurrent use.
type Coordinator struct {
	store   Store
	cache   *cache.Cache
	catalog *config.Catalog

	lock    sync.Mutex
	tenants map[string]*tenantState

	nowFn func() time.Time
}

func NewCoordinator(store Store, readCache *cache.Cache, catalog *config.Catalog) *Coordinator {
	return &Coordinator{
		store:   store,
		cache:   readCache,
		catalog: catalog,
		tenants: make(map[string]*tenantState),
		nowFn:   time.Now,
	}
}

// AfterSync drops the cached families of entityTypes for tenant and rebuilds
// its aggregates, unless no row changed since the last rebuild and force is
// false. Failures of the precomputed path switch the tenant to the legacy
// computation and are reported in the Outcome, never returned.
func (c *Coordinator) AfterSync(ctx context.Context, tenant string, entityTypes []string, force bool) Outcome {
	log := logger.FromContext(ctx).WithName(loggerName).With("tenant", tenant)

	outcome := Outcome{
		Tenant:      tenant,
		Invalidated: c.cache.InvalidateTenant(tenant, c.catalog.CacheFamilies(entityTypes)),
	}
	log.Debug("cache families invalidated", "entityTypes", entityTypes, "entries", outcome.Invalidated)

	latest := c.latestSyncedAt(ctx, tenant, entityTypes)
	if !force && !c.changed(tenant, latest) {
		log.Debug("aggregates are up to date, skipping recomputation")
		outcome.Strategy = StrategySkipped
		return outcome
	}

	asOf := asOfDay(c.nowFn())
	outcome.Strategy = StrategyViews
	err := c.store.RefreshAging(ctx, tenant, asOf)
	if err != nil {
		log.Warn("precomputed aging refresh failed, falling back to legacy computation", "error", err)
		outcome.Strategy = StrategyLegacy
		outcome.Error = err.Error()
	}

	c.lock.Lock()
	state := c.stateLocked(tenant)
	state.degraded = err != nil
	state.refreshedAt = c.nowFn()
	// a degraded tenant is retried by the next refresh even when no row changed
	if latest != nil && err == nil {
		state.seen = *latest
	}
	c.lock.Unlock()

	// readers may have cached the rows being replaced in the meantime
	c.cache.InvalidateTenant(tenant, []string{AgingFamily})
	log.Info("aggregates recomputed", "strategy", outcome.Strategy)
	return outcome
}

// RefreshTenants runs AfterSync over every entity type of tenants, at most DefaultRefreshConcurrency at a time.
func (c *Coordinator) RefreshTenants(ctx context.Context, tenants []string, force bool) ([]Outcome, error) {
	outcomes := make([]Outcome, len(tenants))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(DefaultRefreshConcurrency)

	for idx, tenant := range tenants {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			outcomes[idx] = c.AfterSync(groupCtx, tenant, c.catalog.Types(), force)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Degraded reports whether the aging of tenant is computed from the raw vouchers.
func (c *Coordinator) Degraded(tenant string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	state, ok := c.tenants[tenant]
	return ok && state.degraded
}

// LastRefresh returns when the aggregates of tenant were last recomputed.
func (c *Coordinator) LastRefresh(tenant string) (time.Time, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	state, ok := c.tenants[tenant]
	if !ok || state.refreshedAt.IsZero() {
		return time.Time{}, false
	}
	return state.refreshedAt, true
}

func (c *Coordinator) latestSyncedAt(ctx context.Context, tenant string, entityTypes []string) *time.Time {
	log := logger.FromContext(ctx).WithName(loggerName)

	entities, err := c.catalog.Select(entityTypes)
	if err != nil {
		log.Warn("cannot resolve entity types", "error", err)
		return nil
	}

	var latest *time.Time
	for _, entity := range entities {
		syncedAt, err := c.store.MaxSyncedAt(ctx, entity.Table, tenant)
		if err != nil {
			log.Warn("cannot read latest synced row", "table", entity.Table, "error", err)
			return nil
		}
		if syncedAt != nil && (latest == nil || syncedAt.After(*latest)) {
			latest = syncedAt
		}
	}
	return latest
}

// changed is false only when the last successful recomputation already covered latest.
func (c *Coordinator) changed(tenant string, latest *time.Time) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	state, ok := c.tenants[tenant]
	if !ok || state.refreshedAt.IsZero() || state.degraded || latest == nil {
		return true
	}
	return latest.After(state.seen)
}

func (c *Coordinator) stateLocked(tenant string) *tenantState {
	state, ok := c.tenants[tenant]
	if !ok {
		state = &tenantState{}
		c.tenants[tenant] = state
	}
	return state
}
