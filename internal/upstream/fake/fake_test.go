// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package fake

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/tallysync/internal/upstream"
)

func TestFakeQuerier(t *testing.T) {
	t.Parallel()

	ledgers := []upstream.Record{
		{"GUID": "1", "PARENT": "Sundry Debtors"},
		{"GUID": "2", "PARENT": "Sundry Creditors"},
	}
	querier := NewFakeQuerier(t).
		On("Ledger", Response{Err: upstream.NewError(upstream.KindUnreachable, "", errors.New("refused"))}, Response{Records: ledgers})

	opts := upstream.QueryOptions{MaxAttempts: 3, Backoff: time.Millisecond}
	records, err := querier.Query(t.Context(), upstream.QueryDescriptor{
		Collection: "Ledger",
		Filters:    map[string]string{"PARENT": "Sundry Debtors"},
	}, opts)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0]["GUID"])
	assert.Len(t, querier.Calls(), 2)

	records, err = querier.Query(t.Context(), upstream.QueryDescriptor{Collection: "Voucher"}, opts)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, querier.Calls(), 3)
}

func TestFakeQuerierDelay(t *testing.T) {
	t.Parallel()

	querier := NewFakeQuerier(t).On("Voucher", Response{Delay: time.Hour})
	opts := upstream.QueryOptions{Timeout: 5 * time.Millisecond, MaxAttempts: 2, Backoff: time.Millisecond}

	_, err := querier.Query(t.Context(), upstream.QueryDescriptor{Collection: "Voucher"}, opts)
	assert.ErrorIs(t, err, upstream.ErrUpstreamTimeout)
	assert.Len(t, querier.Calls(), 2)
}
