// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

//go:build !linux && !darwin

package sysmem

func totalSystemMemory() (uint64, bool) {
	return 0, false
}
