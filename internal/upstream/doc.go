// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package upstream defines the contract of the external accounting engine
// used as the source of master and transactional records.
// Implementations return typed errors so that callers can decide whether a
// failed query is worth retrying without inspecting error messages.
package upstream
