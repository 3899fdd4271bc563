package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/deident/cmd/cli/commands"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	var (
		cfgFile   string
		verbose   bool
		logFormat string
	)

	app := commands.NewApp()

	rootCmd := &cobra.Command{
		Use:   "deident-cli",
		Short: "Rule-based de-identification with k-anonymity repair",
		Long: `A command-line interface for anonymizing tabular datasets with declarative
rule tables, padding quasi-identifier groups to k-anonymity and certifying the
result for PII absence, k-anonymity and l-diversity.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.Setup(cfgFile, verbose, logFormat, cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.deident.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	rootCmd.AddCommand(commands.NewAnonymizeCmd(app))
	rootCmd.AddCommand(commands.NewValidateCmd(app))
	rootCmd.AddCommand(commands.NewEvaluateCmd(app))
	rootCmd.AddCommand(commands.NewRulesCmd(app))
	rootCmd.AddCommand(commands.NewReportCmd(app))

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
