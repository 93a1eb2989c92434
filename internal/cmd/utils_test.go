// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mia-platform/tallysync/internal/ledger"
	"github.com/mia-platform/tallysync/internal/storage"
	"github.com/mia-platform/tallysync/internal/upstream"
	fakeupstream "github.com/mia-platform/tallysync/internal/upstream/fake"
)

// setupDatabase points DATABASE_URL to a new SQLite file and returns its DSN.
func setupDatabase(t *testing.T) string {
	t.Helper()

	dsn := "sqlite://" + filepath.Join(t.TempDir(), "tallysync.db")
	t.Setenv("DATABASE_URL", dsn)
	return dsn
}

func ledgerRecords(prefix, parent string, count int) []upstream.Record {
	records := make([]upstream.Record, 0, count)
	for idx := range count {
		records = append(records, upstream.Record{
			"GUID":   fmt.Sprintf("%s-%d", prefix, idx),
			"NAME":   fmt.Sprintf("Party %s %d", prefix, idx),
			"PARENT": parent,
		})
	}
	return records
}

func voucherRecords(count int) []upstream.Record {
	records := make([]upstream.Record, 0, count)
	for idx := range count {
		records = append(records, upstream.Record{
			"GUID":            fmt.Sprintf("v-%03d", idx),
			"VOUCHERTYPENAME": "Sales",
			"DATE":            "20260105",
			"PARTYLEDGERNAME": "Party c 1",
			"AMOUNT":          "100",
		})
	}
	return records
}

// testQuerier returns a querierGetter answering with three vendors, two customers and the given vouchers.
func testQuerier(tb testing.TB, vouchers int) (querierGetter, *fakeupstream.FakeQuerier) {
	tb.Helper()

	querier := fakeupstream.NewFakeQuerier(tb).
		On("Ledger", fakeupstream.Response{Records: append(ledgerRecords("s", "Sundry Creditors", 3), ledgerRecords("c", "Sundry Debtors", 2)...)}).
		On("Voucher", fakeupstream.Response{Records: voucherRecords(vouchers)})

	return func(string) (upstream.Querier, error) {
		return querier, nil
	}, querier
}

// lastSync reads the ledger record of tenant and entityType from the database at dsn.
func lastSync(t *testing.T, dsn, tenant, entityType string) *ledger.SyncRecord {
	t.Helper()

	db, err := storage.Open(context.Background(), dsn)
	require.NoError(t, err)
	defer db.Close()

	record, err := ledger.NewSQLStore(db).GetLastSync(t.Context(), tenant, entityType)
	require.NoError(t, err)
	return record
}
