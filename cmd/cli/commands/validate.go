package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inferloop/deident/internal/rules"
	"github.com/inferloop/deident/internal/validation"
	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
)

type ValidateOptions struct {
	InputFile       string
	RulesFile       string
	QuasiIDs        []string
	Sensitive       []string
	TargetK         int
	TargetL         int
	PIIColumns      []string
	NoHalt          bool
	ReportFormat    string
	OutputFile      string
	ReportRedis     string
	AllowViolations bool
}

func NewValidateCmd(app *App) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Certify an anonymized dataset for PII absence, k-anonymity and l-diversity",
		Long: `Validate any anonymized dataset in three phases: no direct identifier
columns, every quasi-identifier group holds at least k records, and every group
holds at least l distinct values of each sensitive attribute. Quasi-identifier
and sensitive columns come from flags or from a rule table.`,
		Example: `  # Validate with explicit columns
  deident-cli validate --input anonymized.csv --qi Age,Gender --sensitive "Medical Condition"

  # Take the columns from the rule table and emit JSON
  deident-cli validate -i anonymized.csv -r configs/healthcare.yaml --report-format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.applyPrivacyDefaults(cmd, &opts.TargetK, &opts.TargetL, &opts.PIIColumns)
			if !cmd.Flags().Changed("no-halt") {
				opts.NoHalt = !app.Config.Privacy.HaltOnFailure
			}
			return runValidate(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Anonymized dataset location (required)")
	cmd.Flags().StringVarP(&opts.RulesFile, "rules", "r", "", "Rule table to take QI and sensitive columns from")
	cmd.Flags().StringSliceVar(&opts.QuasiIDs, "qi", nil, "Quasi-identifier columns")
	cmd.Flags().StringSliceVar(&opts.Sensitive, "sensitive", nil, "Sensitive attribute columns")
	cmd.Flags().IntVarP(&opts.TargetK, "k", "k", constants.DefaultTargetK, "Target k for k-anonymity")
	cmd.Flags().IntVarP(&opts.TargetL, "l", "l", constants.DefaultTargetL, "Target l for l-diversity")
	cmd.Flags().StringSliceVar(&opts.PIIColumns, "pii", nil, "Forbidden direct-identifier columns (default: built-in list)")
	cmd.Flags().BoolVar(&opts.NoHalt, "no-halt", false, "Run every phase even after a failure")
	cmd.Flags().StringVar(&opts.ReportFormat, "report-format", constants.FormatText, "Report format (text, json, csv)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Report destination (- for stdout)")
	cmd.Flags().StringVar(&opts.ReportRedis, "report-redis", "", "Redis address to store the report")
	cmd.Flags().BoolVar(&opts.AllowViolations, "allow-violations", false, "Exit successfully even when validation fails")

	cmd.MarkFlagRequired("input")

	return cmd
}

func runValidate(cmd *cobra.Command, app *App, opts *ValidateOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	qi, sensitive, err := resolveColumns(opts.RulesFile, opts.QuasiIDs, opts.Sensitive)
	if err != nil {
		return err
	}

	ds, err := app.storageFactory().ReadDataset(ctx, opts.InputFile)
	if err != nil {
		return fmt.Errorf("failed to load input data: %w", err)
	}

	engine := validation.NewValidationEngine(&validation.ValidationEngineConfig{
		TargetK:             opts.TargetK,
		TargetL:             opts.TargetL,
		PIIColumns:          opts.PIIColumns,
		QuasiIdentifiers:    qi,
		SensitiveAttributes: sensitive,
		HaltOnFailure:       !opts.NoHalt,
	}, app.Logger)

	report, err := engine.Run(ctx, ds)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	store, err := app.reportStore(ctx, opts.ReportRedis)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.SaveReport(ctx, report); err != nil {
			return err
		}
	}

	if err := app.writeDocument(ctx, cmd, opts.OutputFile, opts.ReportFormat, report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if !report.Passed && !opts.AllowViolations {
		return errors.WrapError(errors.ErrPrivacyViolation, errors.ErrorTypePrivacy, errors.CodeValidationFailed,
			fmt.Sprintf("run %s failed privacy validation", report.RunID))
	}
	return nil
}

// resolveColumns prefers explicit column flags and falls back to the rule
// table's classification.
func resolveColumns(rulesFile string, qi, sensitive []string) ([]string, []string, error) {
	if rulesFile != "" && (len(qi) == 0 || len(sensitive) == 0) {
		rs, err := rules.LoadFile(rulesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load rules: %w", err)
		}
		ruleQI, ruleSensitive := rs.Classify()
		if len(qi) == 0 {
			qi = ruleQI
		}
		if len(sensitive) == 0 {
			sensitive = ruleSensitive
		}
	}

	if len(qi) == 0 {
		return nil, nil, errors.NewConfigurationError(errors.CodeMissingField, "quasi-identifier columns are required (--qi or --rules)")
	}
	return qi, sensitive, nil
}
