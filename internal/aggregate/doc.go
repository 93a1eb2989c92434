// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package aggregate keeps the derived read models of a tenant coherent with
// its synced rows. After every sync the cache families of the affected entity
// types are dropped and the aging aggregates are rebuilt in the precomputed
// table; when that fails the tenant is served by computing the aging from the
// raw vouchers at read time.
//
// Receipts and payments are applied to the invoices of the same party oldest
// first: the buckets hold what is still outstanding and the settled invoices
// give the average settlement cycle of the party.
package aggregate
