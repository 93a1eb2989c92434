// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrEnvVariablesNotValid = errors.New("environment variables not valid")
)

// Sync holds the runtime configuration of the synchronization engine.
type Sync struct {
	DatabaseURL string   `env:"DATABASE_URL,required,notEmpty"`
	TallyURL    string   `env:"TALLY_URL" envDefault:"http://localhost:9000"`
	Tenants     []string `env:"SYNC_TENANTS" envSeparator:","`

	Interval                 time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
	MinGap                   time.Duration `env:"SYNC_MIN_GAP" envDefault:"2m"`
	AggregateRefreshInterval time.Duration `env:"AGGREGATE_REFRESH_INTERVAL" envDefault:"5m"`

	BatchSize      int           `env:"BATCH_SIZE" envDefault:"50"`
	StallThreshold time.Duration `env:"STALL_THRESHOLD" envDefault:"10m"`
	TransientPause time.Duration `env:"TRANSIENT_PAUSE" envDefault:"2s"`

	FullSyncWindow     time.Duration `env:"FULL_SYNC_WINDOW" envDefault:"8760h"`
	StaleAfter         time.Duration `env:"STALE_AFTER" envDefault:"168h"`
	IncrementalOverlap time.Duration `env:"INCREMENTAL_OVERLAP" envDefault:"24h"`

	UpstreamTimeout        time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"15m"`
	UpstreamDisableTimeout bool          `env:"UPSTREAM_DISABLE_TIMEOUT" envDefault:"false"`
	UpstreamMaxAttempts    int           `env:"UPSTREAM_MAX_ATTEMPTS" envDefault:"3"`
	UpstreamBackoff        time.Duration `env:"UPSTREAM_BACKOFF" envDefault:"2s"`

	CacheMaxEntryBytes   int64   `env:"CACHE_MAX_ENTRY_BYTES" envDefault:"104857600"`
	CacheMaxTotalBytes   int64   `env:"CACHE_MAX_TOTAL_BYTES" envDefault:"524288000"`
	CacheMemoryHighWater float64 `env:"CACHE_MEMORY_HIGH_WATER" envDefault:"0.8"`
	EntityCatalogPath    string  `env:"ENTITY_CATALOG_PATH"`
}

// LoadSync parses the environment and validates the resulting configuration.
func LoadSync() (*Sync, error) {
	var envVars Sync
	if err := env.Parse(&envVars); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvVariablesNotValid, err.Error())
	}

	if err := envVars.validate(); err != nil {
		return nil, err
	}
	return &envVars, nil
}

func (s *Sync) validate() error {
	envError := make([]string, 0)

	if s.BatchSize < 1 {
		envError = append(envError, "BATCH_SIZE must be greater than zero")
	}
	if s.MinGap < 0 {
		envError = append(envError, "SYNC_MIN_GAP must not be negative")
	}
	if s.Interval <= 0 {
		envError = append(envError, "SYNC_INTERVAL must be positive")
	}
	if s.AggregateRefreshInterval <= 0 {
		envError = append(envError, "AGGREGATE_REFRESH_INTERVAL must be positive")
	}
	if s.StallThreshold <= 0 {
		envError = append(envError, "STALL_THRESHOLD must be positive")
	}
	if s.FullSyncWindow <= 0 {
		envError = append(envError, "FULL_SYNC_WINDOW must be positive")
	}
	if s.StaleAfter <= 0 {
		envError = append(envError, "STALE_AFTER must be positive")
	}
	if s.IncrementalOverlap < 0 {
		envError = append(envError, "INCREMENTAL_OVERLAP must not be negative")
	}
	if s.UpstreamMaxAttempts < 1 {
		envError = append(envError, "UPSTREAM_MAX_ATTEMPTS must be greater than zero")
	}
	if !s.UpstreamDisableTimeout && s.UpstreamTimeout <= 0 {
		envError = append(envError, "UPSTREAM_TIMEOUT must be positive unless UPSTREAM_DISABLE_TIMEOUT is set")
	}
	if s.CacheMaxEntryBytes <= 0 || s.CacheMaxTotalBytes <= 0 {
		envError = append(envError, "cache size limits must be positive")
	}
	if s.CacheMaxEntryBytes > s.CacheMaxTotalBytes {
		envError = append(envError, "CACHE_MAX_ENTRY_BYTES exceeds CACHE_MAX_TOTAL_BYTES")
	}
	if s.CacheMemoryHighWater <= 0 || s.CacheMemoryHighWater > 1 {
		envError = append(envError, "CACHE_MEMORY_HIGH_WATER must be in the (0, 1] range")
	}

	if len(envError) > 0 {
		return fmt.Errorf("%w: %s", ErrEnvVariablesNotValid, strings.Join(envError, ", "))
	}
	return nil
}
