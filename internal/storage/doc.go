// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package storage is the relational store shared by the sync ledger, the
// entity tables and the aggregate tables. The same statements run on
// PostgreSQL (lib/pq) and SQLite (go-sqlite3): queries are written with "?"
// placeholders and rebound for the dialect of the open database.
package storage
