// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/destination/writer"
	"github.com/mia-platform/tallysync/internal/ledger"
	"github.com/mia-platform/tallysync/internal/orchestrator"
)

// syncFlags holds the flags for the "sync" command.
type syncFlags struct {
	full        bool
	from        string
	to          string
	entities    []string
	localOutput bool
}

// addFlags adds the cli flags to the cobra command.
func (f *syncFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.full, fullFlagName, false, fullFlagUsage)
	cmd.Flags().StringVar(&f.from, fromFlagName, "", fromFlagUsage)
	cmd.Flags().StringVar(&f.to, toFlagName, "", toFlagUsage)
	cmd.Flags().BoolVar(&f.localOutput, localOutputFlagName, defaultLocalOutput, localOutputFlagUsage)
	addEntityFlag(cmd, &f.entities)
}

// toOptions converts the sync flags to syncOptions enriching it with the passed arguments.
func (f *syncFlags) toOptions(cmd *cobra.Command, args []string) (*syncOptions, error) {
	tenant, err := tenantArg(args)
	if err != nil {
		return nil, err
	}

	from, err := parseDate(fromFlagName, f.from)
	if err != nil {
		return nil, err
	}
	to, err := parseDate(toFlagName, f.to)
	if err != nil {
		return nil, err
	}

	return &syncOptions{
		tenant:      tenant,
		full:        f.full,
		from:        from,
		to:          to,
		entities:    f.entities,
		localOutput: f.localOutput,
		out:         cmd.OutOrStdout(),
		querier:     tallyQuerier,
	}, nil
}

type syncOptions struct {
	tenant      string
	full        bool
	from        *time.Time
	to          *time.Time
	entities    []string
	localOutput bool
	out         io.Writer
	querier     querierGetter

	lock sync.Mutex
}

// validate validates the sync options and returns an error if something is wrong.
func (o *syncOptions) validate() error {
	if o.from != nil && o.to != nil && o.to.Before(*o.from) {
		return fmt.Errorf("%w: --%s is before --%s", errInvalidDate, toFlagName, fromFlagName)
	}
	return nil
}

// execute runs one manual sync for the tenant and prints its report.
func (o *syncOptions) execute(ctx context.Context) error {
	if !o.lock.TryLock() {
		return nil
	}
	defer o.lock.Unlock()

	cfg, err := config.LoadSync()
	if err != nil {
		return err
	}

	w := wiring{querier: o.querier}
	if o.localOutput {
		// a private in memory database keeps the dry run away from stored rows
		cfg.DatabaseURL = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		w.destination = writer.NewDestination(o.out)
		w.ledger = ledger.NewMemoryStore()
	}

	app, err := newApplication(ctx, cfg, w)
	if err != nil {
		return err
	}
	defer app.close()

	report, err := app.orchestrator.Trigger(ctx, orchestrator.Request{
		Tenants:   []string{o.tenant},
		Manual:    true,
		ForceFull: o.full,
		StartDate: o.from,
		EndDate:   o.to,
		Entities:  o.entities,
	})
	if report.RunID != "" {
		printReport(o.out, report)
	}
	return err
}

func printReport(out io.Writer, report orchestrator.Report) {
	for _, entity := range report.Entities {
		result := entity.Result
		fmt.Fprintf(out, "%s %s: %s (%s) %d/%d synced, %d skipped, %d failed batches in %dms\n",
			entity.Tenant,
			result.EntityType,
			entity.Decision.Mode,
			entity.Decision.Reason,
			result.SyncedCount,
			result.Total,
			result.Skipped,
			len(result.Errors),
			result.DurationMs,
		)
		for _, batchErr := range result.Errors {
			fmt.Fprintf(out, "\t%s\n", batchErr)
		}
		if result.Error != "" {
			fmt.Fprintf(out, "\terror: %s\n", result.Error)
		}
	}
	for _, outcome := range report.Aggregates {
		fmt.Fprintf(out, "%s aggregates: %s\n", outcome.Tenant, outcome.Strategy)
	}
}
