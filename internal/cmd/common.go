// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mia-platform/tallysync/internal/config"
)

const dateLayout = "2006-01-02"

var (
	errNoTenant    = errors.New("no tenant provided")
	errInvalidDate = errors.New("invalid date")
)

// handleError will do custom print error handling based on the type of error received.
// it will return nil if the command must return 0 exit code, otherwise it will return
// the original error.
func handleError(cmd *cobra.Command, err error) error {
	switch {
	case errors.Is(err, errNoTenant):
		_ = cmd.Usage() // do not check error as we cannot do much about it
		return nil
	case errors.Is(err, errInvalidDate), errors.Is(err, config.ErrUnknownEntity):
		cmd.PrintErrln(err)
		_ = cmd.Usage() // do not check error as we cannot do much about it
		return err
	default:
		cmd.PrintErrln(err)
		return err
	}
}

// parseDate converts a YYYY-MM-DD flag value; an empty value returns nil.
func parseDate(flagName, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("%w for --%s: %q is not a YYYY-MM-DD date", errInvalidDate, flagName, value)
	}
	return &parsed, nil
}

// tenantArg returns the first argument or errNoTenant.
func tenantArg(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", errNoTenant
	}
	return args[0], nil
}

// entityCompletion suggests the entity types of the default catalog.
func entityCompletion(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	catalog, err := config.DefaultCatalog()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	comps := make([]string, 0)
	for _, entity := range catalog.Entities() {
		comps = append(comps, cobra.CompletionWithDesc(entity.Type, entity.Collection+" collection"))
	}
	return comps, cobra.ShellCompDirectiveNoFileComp
}
