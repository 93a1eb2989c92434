// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
)

const (
	runCmdUsage = "run"
	runCmdShort = "start the sync service"
	runCmdLong  = `Start the sync service.
	The service exposes the HTTP API, runs a sync of every configured tenant at
	startup and then every SYNC_INTERVAL, and refreshes the aggregates every
	AGGREGATE_REFRESH_INTERVAL. It stops on SIGINT or SIGTERM after the
	in-flight batches have been written.

	The tenants to synchronize are read from SYNC_TENANTS.`

	runCmdExample = `# Start the service against a local database
	DATABASE_URL=sqlite://tallysync.db SYNC_TENANTS="Acme Ltd" tallysync run`

	syncCmdUsage = "sync TENANT"
	syncCmdShort = "run a single sync for a tenant"
	syncCmdLong  = `Run a single sync for a tenant and print its report.
	The sync mode of every entity type is chosen from the ledger: a full sync
	when the entity was never synced or its last sync is stale, an incremental
	one otherwise. A custom window can be set with --from and --to.`

	syncCmdExample = `# Sync every entity of a tenant
	tallysync sync "Acme Ltd"

	# Full sync of the transactions only, printing the batches instead of writing them
	tallysync sync "Acme Ltd" --full --entity transactions --local-output

	# Sync a custom window
	tallysync sync "Acme Ltd" --from 2025-04-01 --to 2025-06-30`

	resetCmdUsage = "reset TENANT"
	resetCmdShort = "clear the sync ledger of a tenant"
	resetCmdLong  = `Clear the sync ledger of a tenant so that its next sync is a full one.
	Synchronized rows and the sync history are kept.`

	resetCmdExample = `# Reset every entity of a tenant
	tallysync reset "Acme Ltd"

	# Reset the transactions only
	tallysync reset "Acme Ltd" --entity transactions`
)

// RunCmd return the "run" cli command for starting the service.
func RunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:     runCmdUsage,
		Short:   heredoc.Doc(runCmdShort),
		Long:    heredoc.Doc(runCmdLong),
		Example: heredoc.Doc(runCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		Args:              cobra.NoArgs,
		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := flags.toOptions()
			if err := opts.execute(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}

	return cmd
}

// SyncCmd return the "sync" cli command for a single manual run.
func SyncCmd() *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:     syncCmdUsage,
		Short:   heredoc.Doc(syncCmdShort),
		Long:    heredoc.Doc(syncCmdLong),
		Example: heredoc.Doc(syncCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.toOptions(cmd, args)
			if err != nil {
				return handleError(cmd, err)
			}

			if err := opts.validate(); err != nil {
				return handleError(cmd, err)
			}

			if err := opts.execute(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}

	flags.addFlags(cmd)
	return cmd
}

// ResetCmd return the "reset" cli command for clearing the ledger of a tenant.
func ResetCmd() *cobra.Command {
	flags := &resetFlags{}
	cmd := &cobra.Command{
		Use:     resetCmdUsage,
		Short:   heredoc.Doc(resetCmdShort),
		Long:    heredoc.Doc(resetCmdLong),
		Example: heredoc.Doc(resetCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.toOptions(cmd, args)
			if err != nil {
				return handleError(cmd, err)
			}

			if err := opts.execute(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}

	flags.addFlags(cmd)
	return cmd
}
