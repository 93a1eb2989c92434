// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package cache is the in-memory read cache shared by the read endpoints.
//
// Entries are kept in a ttlcache store, expire after a per entry TTL and are
// bounded in size: a Set that
// would exceed the per entry cap, the global cap, or that happens while the
// process is above its memory high-water mark is refused and the caller is
// expected to compute the value directly. Keys are grouped in families
// ("family:tenant:suffix") so that all the entries of a tenant affected by a
// sync can be dropped together.
package cache
