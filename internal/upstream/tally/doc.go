// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package tally implements upstream.Querier on top of the XML over HTTP
// export interface of the accounting engine. Every query is a collection
// export request; the records found under the COLLECTION element of the
// response are returned as generic records.
package tally
