// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/tallysync/internal/destination"
)

func TestFakeDestination(t *testing.T) {
	t.Parallel()

	writeErr := errors.New("write failed")
	fakeDestination := NewFakeDestination(t).WithFailures(func(_ context.Context, call int, _ destination.Batch) error {
		if call == 2 {
			return writeErr
		}
		return nil
	})
	assert.Empty(t, fakeDestination.Rows("customers"))

	batch := destination.Batch{
		Table:       "customers",
		Columns:     []string{"tenant_id", "guid", "name"},
		ConflictKey: []string{"tenant_id", "guid"},
		Rows:        [][]any{{"T", "g-1", "Acme"}},
	}

	affected, err := fakeDestination.Upsert(t.Context(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = fakeDestination.Upsert(t.Context(), batch)
	require.ErrorIs(t, err, writeErr)

	batch.Rows = [][]any{{"T", "g-1", "Acme Renamed"}}
	_, err = fakeDestination.Upsert(t.Context(), batch)
	require.NoError(t, err)

	assert.Equal(t, 3, fakeDestination.Calls())
	assert.Len(t, fakeDestination.Batches, 2)
	assert.Equal(t, []map[string]any{{"tenant_id": "T", "guid": "g-1", "name": "Acme Renamed"}}, fakeDestination.Rows("customers"))
}
