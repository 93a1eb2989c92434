// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSync(t *testing.T) {
	testCases := map[string]struct {
		env           map[string]string
		expected      func(t *testing.T, cfg *Sync)
		errorContains string
	}{
		"defaults": {
			env: map[string]string{"DATABASE_URL": "sqlite://tally.db"},
			expected: func(t *testing.T, cfg *Sync) {
				t.Helper()
				assert.Equal(t, 50, cfg.BatchSize)
				assert.Equal(t, 5*time.Minute, cfg.Interval)
				assert.Equal(t, 2*time.Minute, cfg.MinGap)
				assert.Equal(t, 10*time.Minute, cfg.StallThreshold)
				assert.Equal(t, 365*24*time.Hour, cfg.FullSyncWindow)
				assert.Equal(t, 7*24*time.Hour, cfg.StaleAfter)
				assert.Equal(t, 24*time.Hour, cfg.IncrementalOverlap)
				assert.Equal(t, 15*time.Minute, cfg.UpstreamTimeout)
				assert.Equal(t, 3, cfg.UpstreamMaxAttempts)
				assert.Equal(t, int64(100<<20), cfg.CacheMaxEntryBytes)
				assert.Equal(t, int64(500<<20), cfg.CacheMaxTotalBytes)
				assert.InDelta(t, 0.8, cfg.CacheMemoryHighWater, 0.0001)
				assert.False(t, cfg.UpstreamDisableTimeout)
				assert.Empty(t, cfg.Tenants)
			},
		},
		"tenants list": {
			env: map[string]string{
				"DATABASE_URL": "sqlite://tally.db",
				"SYNC_TENANTS": "guid-a,guid-b",
			},
			expected: func(t *testing.T, cfg *Sync) {
				t.Helper()
				assert.Equal(t, []string{"guid-a", "guid-b"}, cfg.Tenants)
			},
		},
		"missing database url": {
			env:           map[string]string{},
			errorContains: "DATABASE_URL",
		},
		"invalid values": {
			env: map[string]string{
				"DATABASE_URL":            "sqlite://tally.db",
				"BATCH_SIZE":              "0",
				"CACHE_MEMORY_HIGH_WATER": "1.5",
			},
			errorContains: "BATCH_SIZE must be greater than zero, CACHE_MEMORY_HIGH_WATER must be in the (0, 1] range",
		},
		"disabled timeout accepts zero": {
			env: map[string]string{
				"DATABASE_URL":             "sqlite://tally.db",
				"UPSTREAM_TIMEOUT":         "0s",
				"UPSTREAM_DISABLE_TIMEOUT": "true",
			},
			expected: func(t *testing.T, cfg *Sync) {
				t.Helper()
				assert.True(t, cfg.UpstreamDisableTimeout)
			},
		},
	}

	for testName, test := range testCases {
		t.Run(testName, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for key, value := range test.env {
				t.Setenv(key, value)
			}

			cfg, err := LoadSync()
			if test.errorContains != "" {
				assert.ErrorIs(t, err, ErrEnvVariablesNotValid)
				assert.ErrorContains(t, err, test.errorContains)
				return
			}

			require.NoError(t, err)
			test.expected(t, cfg)
		})
	}
}
