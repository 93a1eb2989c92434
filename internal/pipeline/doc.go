// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package pipeline implements the batch ingestion of one entity type: it
// fetches the candidate records from the accounting engine, maps them in
// fixed size batches, writes every batch with a single idempotent upsert and
// retries the failed batches once after the main pass.
package pipeline
