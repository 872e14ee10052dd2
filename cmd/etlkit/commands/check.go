package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ben-leadtech/etlkit/credentials"
)

// checkQuery is run against Salesforce to prove the login works.
const checkQuery = "SELECT Id FROM Account LIMIT 1"

var errCheckFailed = errors.New("one or more checks failed")

func (a *app) checkCommand() *cobra.Command {
	var sfPath, googlePath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Test access to Salesforce and Google Cloud",
		Long: `Logs in with the given credential files and runs a trivial request:
a SOQL query against Salesforce and a dataset listing against BigQuery.`,
		Example: "  etlkit check --salesforce creds/salesforce.json --google creds/google.json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sfPath == "" && googlePath == "" {
				return errors.New("nothing to check: pass --salesforce and/or --google")
			}
			out := newPrinter(cmd.OutOrStdout())
			ctx := cmd.Context()

			failed := false
			if sfPath != "" {
				if err := a.checkSalesforce(ctx, sfPath); err != nil {
					out.Failure("salesforce: %v\n", err)
					failed = true
				} else {
					out.Success("salesforce: %s\n", checkQuery)
				}
			}
			if googlePath != "" {
				n, err := a.checkGoogle(ctx, googlePath)
				if err != nil {
					out.Failure("bigquery: %v\n", err)
					failed = true
				} else {
					out.Success("bigquery: %d dataset(s) visible\n", n)
				}
			}
			if failed {
				return errCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sfPath, "salesforce", "", "Salesforce credentials file")
	cmd.Flags().StringVar(&googlePath, "google", "", "Google credentials file")
	return cmd
}

func (a *app) checkSalesforce(ctx context.Context, path string) error {
	creds, err := credentials.ReadSalesforce(path)
	if err != nil {
		return err
	}
	sf, err := a.factories.WithDefaults().Salesforce(ctx, creds, a.logger)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if _, err := sf.Runner(false).Query(ctx, checkQuery); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

func (a *app) checkGoogle(ctx context.Context, path string) (int, error) {
	creds, err := credentials.ReadGoogle(path)
	if err != nil {
		return 0, err
	}
	w, err := a.factories.WithDefaults().Warehouse(ctx, creds)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer w.Close()

	datasets, err := w.Datasets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list datasets: %w", err)
	}
	a.logger.Debug("bigquery datasets", "project", creds.ProjectID, "datasets", datasets)
	return len(datasets), nil
}
