// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package writer implements an upserter that prints every received batch to
// the given io.Writer instead of writing it to the database.
// It is primarily useful for dry runs, or for tweaking and adjusting the
// entity catalog before syncing into a real store.
package writer
