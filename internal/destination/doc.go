// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package destination defines the persistence collaborator used by the
// ingestion pipeline: one bulk, idempotent upsert per batch of rows.
package destination
