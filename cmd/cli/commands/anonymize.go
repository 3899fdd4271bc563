package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	obsmetrics "github.com/inferloop/deident/internal/observability/metrics"
	"github.com/inferloop/deident/internal/pipeline"
	"github.com/inferloop/deident/internal/rules"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
)

type AnonymizeOptions struct {
	InputFile       string
	OutputFile      string
	RulesFile       string
	TargetK         int
	TargetL         int
	PIIColumns      []string
	NoAugment       bool
	NoHalt          bool
	Seed            int64
	Evaluate        bool
	ReportFormat    string
	ReportFile      string
	ReportRedis     string
	MetricsTextfile string
	AllowViolations bool
}

func NewAnonymizeCmd(app *App) *cobra.Command {
	opts := &AnonymizeOptions{}

	cmd := &cobra.Command{
		Use:   "anonymize",
		Short: "Apply de-identification rules, repair k-anonymity and certify the result",
		Long: `Apply a rule table to a raw dataset, pad under-sized quasi-identifier groups
with synthetic records until every group reaches k, then validate PII absence,
k-anonymity and l-diversity. Locations may be local paths, s3://bucket/key or
postgres://host/db?table=name.`,
		Example: `  # Anonymize a CSV with the healthcare rule table
  deident-cli anonymize --input healthcare.csv --rules configs/healthcare.yaml --output anonymized.csv

  # Reproducible run with a risk comparison
  deident-cli anonymize -i healthcare.csv -r configs/healthcare.yaml -o out.csv --seed 42 --evaluate

  # Read from PostgreSQL, write to S3 and keep the report in Redis
  deident-cli anonymize -i "postgres://etl@db/clinical?table=patients" -r rules.yaml \
    -o s3://deid-bucket/patients.csv.gz --report-redis localhost:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.applyPrivacyDefaults(cmd, &opts.TargetK, &opts.TargetL, &opts.PIIColumns)
			if !cmd.Flags().Changed("seed") {
				opts.Seed = app.Config.Privacy.Seed
			}
			if !cmd.Flags().Changed("no-halt") {
				opts.NoHalt = !app.Config.Privacy.HaltOnFailure
			}
			return runAnonymize(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Raw dataset location (required)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "", "Anonymized dataset location")
	cmd.Flags().StringVarP(&opts.RulesFile, "rules", "r", "", "YAML rule table (required)")
	cmd.Flags().IntVarP(&opts.TargetK, "k", "k", constants.DefaultTargetK, "Target k for k-anonymity")
	cmd.Flags().IntVarP(&opts.TargetL, "l", "l", constants.DefaultTargetL, "Target l for l-diversity")
	cmd.Flags().StringSliceVar(&opts.PIIColumns, "pii", nil, "Forbidden direct-identifier columns (default: built-in list)")
	cmd.Flags().BoolVar(&opts.NoAugment, "no-augment", false, "Skip k-anonymity augmentation")
	cmd.Flags().BoolVar(&opts.NoHalt, "no-halt", false, "Run every validation phase even after a failure")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Random seed for augmentation (0 = time based)")
	cmd.Flags().BoolVar(&opts.Evaluate, "evaluate", false, "Compare re-identification risk of input and output")
	cmd.Flags().StringVar(&opts.ReportFormat, "report-format", constants.FormatText, "Report format (text, json, csv)")
	cmd.Flags().StringVar(&opts.ReportFile, "report", "-", "Report destination (- for stdout)")
	cmd.Flags().StringVar(&opts.ReportRedis, "report-redis", "", "Redis address to store the validation report")
	cmd.Flags().StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this textfile")
	cmd.Flags().BoolVar(&opts.AllowViolations, "allow-violations", false, "Exit successfully even when validation fails")

	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("rules")

	return cmd
}

func runAnonymize(cmd *cobra.Command, app *App, opts *AnonymizeOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rs, err := rules.LoadFile(opts.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	var pipelineOpts []pipeline.Option

	metricsConfig := app.Config.Metrics
	if opts.MetricsTextfile != "" {
		metricsConfig.Enabled = true
		metricsConfig.TextfilePath = opts.MetricsTextfile
	}
	if metricsConfig.Enabled && metricsConfig.TextfilePath != "" {
		pm, err := obsmetrics.NewPrometheusMetrics(&metricsConfig, app.Logger)
		if err != nil {
			return err
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithMetrics(pm))
	}

	store, err := app.reportStore(ctx, opts.ReportRedis)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	if store != nil {
		defer store.Close()
		pipelineOpts = append(pipelineOpts, pipeline.WithReportStore(store))
	}

	p, err := pipeline.New(&pipeline.Config{
		Input:            opts.InputFile,
		Output:           opts.OutputFile,
		TargetK:          opts.TargetK,
		TargetL:          opts.TargetL,
		PIIColumns:       opts.PIIColumns,
		HaltOnFailure:    !opts.NoHalt,
		SkipAugmentation: opts.NoAugment,
		Seed:             opts.Seed,
		Evaluate:         opts.Evaluate,
	}, rs, app.storageFactory(), app.Logger, pipelineOpts...)
	if err != nil {
		return err
	}

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.ReportFormat == constants.FormatText && (opts.ReportFile == "" || opts.ReportFile == "-") {
		fmt.Fprintf(out, "Run %s: %d input records, %d output records", result.RunID, result.InputRecords, result.OutputRecords)
		if result.Augmentation != nil {
			fmt.Fprintf(out, " (%d synthetic in %d groups)", result.Augmentation.Added, result.Augmentation.GroupsAugmented)
		}
		fmt.Fprintln(out)
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "Warning: %s\n", w)
		}
		fmt.Fprintln(out)
	}

	if err := app.writeDocument(ctx, cmd, opts.ReportFile, opts.ReportFormat, result.Report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if result.Comparison != nil && opts.ReportFormat == constants.FormatText {
		fmt.Fprintln(out)
		if err := app.writeDocument(ctx, cmd, "-", constants.FormatText, result.Comparison); err != nil {
			return fmt.Errorf("failed to write comparison: %w", err)
		}
	}

	if !result.Passed() && !opts.AllowViolations {
		return errors.WrapError(errors.ErrPrivacyViolation, errors.ErrorTypePrivacy, errors.CodeValidationFailed,
			fmt.Sprintf("run %s failed privacy validation", result.RunID))
	}

	return nil
}
