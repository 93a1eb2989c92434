// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/ledger"
)

func TestSyncExecute(t *testing.T) {
	dsn := setupDatabase(t)
	querier, fake := testQuerier(t, 130)

	out := new(bytes.Buffer)
	opts := &syncOptions{tenant: "T", out: out, querier: querier}
	require.NoError(t, opts.validate())
	require.NoError(t, opts.execute(t.Context()))

	output := out.String()
	assert.Contains(t, output, "T vendors: full (first_sync) 3/3 synced, 0 skipped, 0 failed batches")
	assert.Contains(t, output, "T customers: full (first_sync) 2/2 synced, 0 skipped, 0 failed batches")
	assert.Contains(t, output, "T transactions: full (first_sync) 130/130 synced, 0 skipped, 0 failed batches")
	assert.Contains(t, output, "T aggregates: views")
	assert.Len(t, fake.Calls(), 3)

	record := lastSync(t, dsn, "T", "transactions")
	require.NotNil(t, record)
	assert.Equal(t, ledger.ModeFull, record.LastMode)
	assert.Equal(t, 130, record.LastRecordCount)
	require.NotNil(t, record.LastSyncAt)

	out.Reset()
	opts = &syncOptions{tenant: "T", out: out, querier: querier, entities: []string{"transactions"}}
	require.NoError(t, opts.execute(t.Context()))
	assert.Contains(t, out.String(), "T transactions: incremental (incremental) 130/130 synced")
	assert.NotContains(t, out.String(), "vendors")
}

func TestSyncLocalOutput(t *testing.T) {
	dsn := setupDatabase(t)
	querier, _ := testQuerier(t, 2)

	out := new(bytes.Buffer)
	opts := &syncOptions{tenant: "T", out: out, querier: querier, localOutput: true, entities: []string{"vendors"}}
	require.NoError(t, opts.execute(t.Context()))

	output := out.String()
	assert.Contains(t, output, "Upsert batch:\n\tTable: vendors\n\tConflict Key: tenant_id, guid\n\tRows: 3\n")
	assert.Contains(t, output, "T vendors: full (first_sync) 3/3 synced")
	assert.Equal(t, 1, strings.Count(output, "Upsert batch:"))

	_, err := os.Stat(strings.TrimPrefix(dsn, "sqlite://"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSyncUnknownEntity(t *testing.T) {
	setupDatabase(t)

	errBuffer := new(bytes.Buffer)
	outBuffer := new(bytes.Buffer)
	cmd := SyncCmd()
	cmd.SetOut(outBuffer)
	cmd.SetErr(errBuffer)
	cmd.SetUsageTemplate("usage string")
	cmd.SetArgs([]string{"T", "--" + entityFlagName, "stock", "--" + localOutputFlagName})

	err := cmd.ExecuteContext(t.Context())
	require.ErrorIs(t, err, config.ErrUnknownEntity)
	assert.Equal(t, "unknown entity types: stock\n", errBuffer.String())
	assert.Equal(t, "usage string", outBuffer.String())
}

func TestSyncMissingDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	opts := &syncOptions{tenant: "T", out: new(bytes.Buffer), querier: tallyQuerier}
	err := opts.execute(t.Context())
	require.ErrorIs(t, err, config.ErrEnvVariablesNotValid)
}

func TestVoucherTable(t *testing.T) {
	t.Parallel()

	catalog, err := config.DefaultCatalog()
	require.NoError(t, err)
	assert.Equal(t, "transactions", voucherTable(catalog))

	masters := config.NewCatalog(config.Entity{Type: "vendors", Table: "vendors", Category: "masters"})
	assert.Equal(t, defaultVoucherTable, voucherTable(masters))

}
