package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inferloop/deident/internal/rules"
)

func NewRulesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule tables",
	}
	cmd.AddCommand(newRulesCheckCmd(app))
	return cmd
}

func newRulesCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "check <rules.yaml>",
		Short:   "Validate a rule table and show how each column is treated",
		Example: `  deident-cli rules check configs/healthcare.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := rules.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("invalid rule table %s: %w", args[0], err)
			}

			qi, sensitive := rs.Classify()
			roles := make(map[string]string, rs.Len())
			for _, c := range qi {
				roles[c] = "quasi-identifier"
			}
			for _, c := range sensitive {
				roles[c] = "sensitive"
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "COLUMN\tRULE\tROLE")
			for _, cr := range rs.Rules() {
				role, ok := roles[cr.Column]
				if !ok {
					role = "dropped"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", cr.Column, cr.Rule.Kind(), role)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			app.Logger.WithField("columns", rs.Len()).Debug("Rule table is valid")
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d rules, %d quasi-identifiers, %d sensitive\n", rs.Len(), len(qi), len(sensitive))
			return nil
		},
	}
}
