// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/ledger"
	"github.com/mia-platform/tallysync/internal/storage"
)

// resetFlags holds the flags for the "reset" command.
type resetFlags struct {
	entities []string
}

// addFlags adds the cli flags to the cobra command.
func (f *resetFlags) addFlags(cmd *cobra.Command) {
	addEntityFlag(cmd, &f.entities)
}

// toOptions converts the reset flags to resetOptions enriching it with the passed arguments.
func (f *resetFlags) toOptions(cmd *cobra.Command, args []string) (*resetOptions, error) {
	tenant, err := tenantArg(args)
	if err != nil {
		return nil, err
	}

	return &resetOptions{
		tenant:   tenant,
		entities: f.entities,
		out:      cmd.OutOrStdout(),
	}, nil
}

type resetOptions struct {
	tenant   string
	entities []string
	out      io.Writer
}

// execute clears the ledger records of the tenant, limited to the selected entities,
// so that their next run is a full one.
func (o *resetOptions) execute(ctx context.Context) (err error) {
	cfg, err := config.LoadSync()
	if err != nil {
		return err
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	selected, err := catalog.Select(o.entities)
	if err != nil {
		return err
	}

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	if err := db.EnsureSchema(ctx, catalog); err != nil {
		return err
	}

	entityTypes := make([]string, 0, len(selected))
	for _, entity := range selected {
		entityTypes = append(entityTypes, entity.Type)
	}

	removed, err := ledger.NewSQLStore(db).Reset(ctx, o.tenant, entityTypes...)
	if err != nil {
		return err
	}

	fmt.Fprintf(o.out, "removed %d ledger records of %s\n", removed, o.tenant)
	return nil
}
