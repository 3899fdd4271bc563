package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferloop/deident/internal/storage/interfaces"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
)

type ReportOptions struct {
	Redis        string
	ReportFormat string
	OutputFile   string
	Limit        int64
}

// NewReportCmd reads validation reports back from the report store.
func NewReportCmd(app *App) *cobra.Command {
	opts := &ReportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Retrieve stored validation reports",
	}
	cmd.PersistentFlags().StringVar(&opts.Redis, "report-redis", "", "Redis address of the report store")

	get := &cobra.Command{
		Use:     "get <run-id>",
		Short:   "Print one stored report",
		Example: `  deident-cli report get 6f1c0e1a-... --report-redis localhost:6379 --report-format json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReportStore(cmd, app, opts, func(ctx context.Context, store interfaces.ReportStore) error {
				report, err := store.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return app.writeDocument(ctx, cmd, opts.OutputFile, opts.ReportFormat, report)
			})
		},
	}
	get.Flags().StringVar(&opts.ReportFormat, "report-format", constants.FormatText, "Report format (text, json, csv)")
	get.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Destination (- for stdout)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored run IDs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReportStore(cmd, app, opts, func(ctx context.Context, store interfaces.ReportStore) error {
				ids, err := store.ListReports(ctx, opts.Limit)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
	list.Flags().Int64Var(&opts.Limit, "limit", 20, "Maximum number of run IDs")

	cmd.AddCommand(get, list)
	return cmd
}

func withReportStore(cmd *cobra.Command, app *App, opts *ReportOptions, fn func(context.Context, interfaces.ReportStore) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := app.reportStore(ctx, opts.Redis)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	if store == nil {
		return errors.NewConfigurationError(errors.CodeMissingField, "no report store configured (--report-redis or storage.redis.addr)")
	}
	defer store.Close()

	return fn(ctx, store)
}
