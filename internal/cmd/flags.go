// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"github.com/spf13/cobra"
)

const (
	entityFlagName  = "entity"
	entityFlagShort = "e"
	entityFlagUsage = "Entity type to process. Can be specified multiple times, defaults to every entity of the catalog."

	localOutputFlagName  = "local-output"
	localOutputFlagUsage = "If set, writes the upsert batches to stdout instead of the database"
	defaultLocalOutput   = false

	fullFlagName  = "full"
	fullFlagUsage = "Force a full sync ignoring the last sync time"

	fromFlagName  = "from"
	fromFlagUsage = "Start of the sync window as YYYY-MM-DD"
	toFlagName    = "to"
	toFlagUsage   = "End of the sync window as YYYY-MM-DD"
)

// addEntityFlag registers the repeatable --entity flag on cmd.
func addEntityFlag(cmd *cobra.Command, entities *[]string) {
	cmd.Flags().StringSliceVarP(entities, entityFlagName, entityFlagShort, nil, entityFlagUsage)
	_ = cmd.RegisterFlagCompletionFunc(entityFlagName, entityCompletion)
}
