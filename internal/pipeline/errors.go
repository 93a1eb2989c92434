// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package pipeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStallDetected is matched by the error returned when no batch committed within the stall threshold.
	ErrStallDetected = errors.New("sync appears stuck")
)

// StallError aborts a run whose batches stopped committing.
type StallError struct {
	EntityType string
	Idle       time.Duration
	Remaining  int
}

func (e *StallError) Error() string {
	return fmt.Sprintf("%s: no %s batch committed for %s with %d batches remaining",
		ErrStallDetected, e.EntityType, e.Idle.Round(time.Millisecond), e.Remaining)
}

func (e *StallError) Is(target error) bool {
	return target == ErrStallDetected
}

// BatchError describes a batch that failed both its first write and its retry.
type BatchError struct {
	Tenant     string `json:"tenant"`
	EntityType string `json:"entityType"`
	// Batch is the 1-based position of the batch in the run of EntityType.
	Batch      int    `json:"batch"`
	Records    int    `json:"records"`
	Error      string `json:"error"`
	RetryError string `json:"retryError"`
}

func (e BatchError) String() string {
	return fmt.Sprintf("%s/%s batch %d (%d records): %s; retry: %s", e.Tenant, e.EntityType, e.Batch, e.Records, e.Error, e.RetryError)
}
