// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package orchestrator sequences the sync runs of the configured tenants.
// At most one run is in flight in the process, runs closer than the minimum
// gap are refused, and master entities are always synced before the
// transactions that reference them.
package orchestrator
