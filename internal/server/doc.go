// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package server exposes the HTTP surface of tallysync on top of fiber: health
// and readiness probes, the orchestrator status, the live progress of the
// ingestion runs, the manual trigger, the sync history and the cached
// aggregate reads.
package server
