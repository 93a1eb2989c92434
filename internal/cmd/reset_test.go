// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/ledger"
)

func TestResetCommand(t *testing.T) {
	dsn := setupDatabase(t)
	querier, _ := testQuerier(t, 10)

	opts := &syncOptions{tenant: "T", out: new(bytes.Buffer), querier: querier}
	require.NoError(t, opts.execute(t.Context()))
	require.NotNil(t, lastSync(t, dsn, "T", "vendors"))

	testCases := []struct {
		name           string
		args           []string
		expectedOutput string
		expectedErr    error
	}{
		{
			name:        "unknown entity",
			args:        []string{"T", "--" + entityFlagName, "stock"},
			expectedErr: config.ErrUnknownEntity,
		},
		{
			name:           "single entity",
			args:           []string{"T", "--" + entityFlagName, "vendors"},
			expectedOutput: "removed 1 ledger records of T\n",
		},
		{
			name:           "every remaining entity",
			args:           []string{"T"},
			expectedOutput: "removed 2 ledger records of T\n",
		},
		{
			name:           "nothing left",
			args:           []string{"T"},
			expectedOutput: "removed 0 ledger records of T\n",
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			outBuffer := new(bytes.Buffer)
			errBuffer := new(bytes.Buffer)
			cmd := ResetCmd()
			cmd.SetOut(outBuffer)
			cmd.SetErr(errBuffer)
			cmd.SetUsageTemplate("usage string")
			cmd.SetArgs(test.args)

			err := cmd.ExecuteContext(t.Context())
			if test.expectedErr != nil {
				require.ErrorIs(t, err, test.expectedErr)
				assert.NotEmpty(t, errBuffer.String())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expectedOutput, outBuffer.String())
		})
	}

	for _, entityType := range []string{"vendors", "customers", "transactions"} {
		record := lastSync(t, dsn, "T", entityType)
		require.NotNil(t, record)
		assert.Equal(t, ledger.ModeReset, record.LastMode)
		assert.Nil(t, record.LastSyncAt)
	}
	assert.Nil(t, lastSync(t, dsn, "other", "vendors"))

	// stored rows of the tenant are still there but the next run must pull the full window again
	out := new(bytes.Buffer)
	opts = &syncOptions{tenant: "T", out: out, querier: querier}
	require.NoError(t, opts.execute(t.Context()))
	assert.Contains(t, out.String(), "T vendors: full (first_sync) 3/3 synced")
	assert.Contains(t, out.String(), "T transactions: full (first_sync) 10/10 synced")
	assert.Equal(t, ledger.ModeFull, lastSync(t, dsn, "T", "transactions").LastMode)
}

func TestResetNeverSyncedTenant(t *testing.T) {
	dsn := setupDatabase(t)

	outBuffer := new(bytes.Buffer)
	cmd := ResetCmd()
	cmd.SetOut(outBuffer)
	cmd.SetArgs([]string{"T", "--" + entityFlagName, "vendors"})

	require.NoError(t, cmd.ExecuteContext(t.Context()))
	assert.Equal(t, "removed 0 ledger records of T\n", outBuffer.String())

	record := lastSync(t, dsn, "T", "vendors")
	require.NotNil(t, record)
	assert.Equal(t, ledger.ModeReset, record.LastMode)
	assert.Nil(t, lastSync(t, dsn, "T", "customers"))
}
