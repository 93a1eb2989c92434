// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/mia-platform/tallysync/internal/cache"
	"github.com/mia-platform/tallysync/internal/logger"
)

// Stats counts the stored rows of every entity type of a tenant.
type Stats struct {
	Tenant     string         `json:"tenant"`
	Entities   map[string]int `json:"entities"`
	ComputedAt time.Time      `json:"computedAt"`
}

// Aging returns the aging of tenant sorted by side and party. Results are
// cached for cache.AnalyticsTTL; degraded tenants, or a failing precomputed
// table, are served by the legacy computation.
func (c *Coordinator) Aging(ctx context.Context, tenant string) ([]PartyAging, error) {
	value, err := c.cache.Fetch(cache.Key(AgingFamily, tenant), cache.AnalyticsTTL, func() (any, error) {
		return c.computeAging(ctx, tenant)
	})
	if err != nil {
		return nil, err
	}
	return value.([]PartyAging), nil
}

func (c *Coordinator) computeAging(ctx context.Context, tenant string) ([]PartyAging, error) {
	log := logger.FromContext(ctx).WithName(loggerName).With("tenant", tenant)

	if !c.Degraded(tenant) {
		rows, err := c.store.ReadAging(ctx, tenant)
		if err == nil {
			return scored(rows), nil
		}
		log.Warn("precomputed aging unavailable, using legacy computation", "error", err)
	}

	rows, err := c.store.LegacyAging(ctx, tenant, asOfDay(c.nowFn()))
	if err != nil {
		return nil, fmt.Errorf("computing aging: %w", err)
	}
	return scored(rows), nil
}

// Stats returns the row counts of tenant, cached for cache.ShortTTL.
func (c *Coordinator) Stats(ctx context.Context, tenant string) (Stats, error) {
	value, err := c.cache.Fetch(cache.Key(StatsFamily, tenant), cache.ShortTTL, func() (any, error) {
		stats := Stats{
			Tenant:     tenant,
			Entities:   make(map[string]int),
			ComputedAt: c.nowFn().UTC(),
		}
		for _, entity := range c.catalog.Entities() {
			count, err := c.store.CountRows(ctx, entity.Table, tenant)
			if err != nil {
				return nil, fmt.Errorf("counting %s: %w", entity.Type, err)
			}
			stats.Entities[entity.Type] = count
		}
		return stats, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return value.(Stats), nil
}
