// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"errors"

	"github.com/mia-platform/tallysync/internal/aggregate"
	"github.com/mia-platform/tallysync/internal/cache"
	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/destination"
	"github.com/mia-platform/tallysync/internal/ledger"
	"github.com/mia-platform/tallysync/internal/mode"
	"github.com/mia-platform/tallysync/internal/orchestrator"
	"github.com/mia-platform/tallysync/internal/pipeline"
	"github.com/mia-platform/tallysync/internal/progress"
	"github.com/mia-platform/tallysync/internal/server"
	"github.com/mia-platform/tallysync/internal/storage"
	"github.com/mia-platform/tallysync/internal/upstream"
	"github.com/mia-platform/tallysync/internal/upstream/tally"
)

const (
	vouchersCategory    = "vouchers"
	defaultVoucherTable = "transactions"
)

// querierGetter builds the upstream client for the configured endpoint.
type querierGetter func(endpoint string) (upstream.Querier, error)

func tallyQuerier(endpoint string) (upstream.Querier, error) {
	return tally.NewClient(endpoint)
}

// wiring replaces the default collaborators of the application.
type wiring struct {
	querier     querierGetter
	destination destination.Upserter
	ledger      ledger.Store
}

// application holds the wired components sharing one database.
type application struct {
	db           *storage.DB
	ledger       ledger.Store
	registry     *progress.Registry
	coordinator  *aggregate.Coordinator
	orchestrator *orchestrator.Orchestrator
}

func loadCatalog(cfg *config.Sync) (*config.Catalog, error) {
	if cfg.EntityCatalogPath == "" {
		return config.DefaultCatalog()
	}
	return config.LoadCatalog(cfg.EntityCatalogPath)
}

// voucherTable returns the table of the first vouchers entity, the aging source.
func voucherTable(catalog *config.Catalog) string {
	for _, entity := range catalog.Entities() {
		if entity.Category == vouchersCategory {
			return entity.Table
		}
	}
	return defaultVoucherTable
}

func newApplication(ctx context.Context, cfg *config.Sync, w wiring) (*application, error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	getter := w.querier
	if getter == nil {
		getter = tallyQuerier
	}
	querier, err := getter(cfg.TallyURL)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx, catalog); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	store := w.ledger
	if store == nil {
		store = ledger.NewSQLStore(db)
	}
	var dst destination.Upserter = db
	if w.destination != nil {
		dst = w.destination
	}

	readCache := cache.New(cache.Options{
		MaxEntryBytes:   cfg.CacheMaxEntryBytes,
		MaxTotalBytes:   cfg.CacheMaxTotalBytes,
		MemoryHighWater: cfg.CacheMemoryHighWater,
	})
	coordinator := aggregate.NewCoordinator(aggregate.NewSQLStore(db, voucherTable(catalog)), readCache, catalog)

	queryTimeout := cfg.UpstreamTimeout
	if cfg.UpstreamDisableTimeout {
		queryTimeout = upstream.NoTimeout
	}

	registry := progress.NewRegistry()
	signals := orchestrator.NewSignals()
	runner := pipeline.New(querier, dst, store, registry, pipeline.Options{
		BatchSize:      cfg.BatchSize,
		StallThreshold: cfg.StallThreshold,
		TransientPause: cfg.TransientPause,
		Query: upstream.QueryOptions{
			Timeout:     queryTimeout,
			MaxAttempts: cfg.UpstreamMaxAttempts,
			Backoff:     cfg.UpstreamBackoff,
		},
		Notifier: signals,
	})
	selector := mode.NewSelector(store, db, mode.Policy{
		FullWindow:         cfg.FullSyncWindow,
		StaleAfter:         cfg.StaleAfter,
		IncrementalOverlap: cfg.IncrementalOverlap,
	})

	orch := orchestrator.New(catalog, selector, runner, coordinator, signals, orchestrator.Options{
		Tenants:                  cfg.Tenants,
		Interval:                 cfg.Interval,
		MinGap:                   cfg.MinGap,
		AggregateRefreshInterval: cfg.AggregateRefreshInterval,
	})

	return &application{
		db:           db,
		ledger:       store,
		registry:     registry,
		coordinator:  coordinator,
		orchestrator: orch,
	}, nil
}

// dependencies exposes the application to the HTTP routes.
func (a *application) dependencies() server.Dependencies {
	return server.Dependencies{
		Sync:       a.orchestrator,
		Progress:   a.registry,
		History:    a.ledger,
		Aggregates: a.coordinator,
		Readiness:  a.db,
	}
}

func (a *application) close() error {
	return a.db.Close()
}
