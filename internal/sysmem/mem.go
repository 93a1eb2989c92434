// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package sysmem reports how much of the machine memory the process is using.
package sysmem

import (
	"runtime"
)

// DefaultMemoryBytes is the assumed total memory (4 GiB) when detection is not supported.
const DefaultMemoryBytes uint64 = 4 << 30

// Total returns the total system memory in bytes; the boolean is false when
// the value is the DefaultMemoryBytes fallback.
func Total() (uint64, bool) {
	if total, ok := totalSystemMemory(); ok && total > 0 {
		return total, true
	}
	return DefaultMemoryBytes, false
}

// Utilization returns the memory obtained by the Go runtime from the system
// as a fraction of the total system memory.
func Utilization() float64 {
	total, _ := Total()

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.Sys) / float64(total)
}
