// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cache

import (
	"strings"
	"time"
)

const (
	// ShortTTL is used for read aggregates such as listings and stats.
	ShortTTL = 5 * time.Minute
	// AnalyticsTTL is used for derived analytics that are expensive to recompute.
	AnalyticsTTL = 10 * time.Minute

	separator = ":"
)

// Key builds the key of a family entry for tenant, for example Key("aging", "T", "receivable").
func Key(family, tenant string, parts ...string) string {
	return strings.Join(append([]string{family, tenant}, parts...), separator)
}

// InvalidateTenant removes every entry of the given families for tenant and returns how many were removed.
func (c *Cache) InvalidateTenant(tenant string, families []string) int {
	removed := 0
	for _, family := range families {
		base := Key(family, tenant)
		removed += c.deleteMatching(func(key string) bool {
			return key == base || strings.HasPrefix(key, base+separator)
		})
	}
	return removed
}
