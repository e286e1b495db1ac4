package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
)

type strategyListOptions struct {
	goal       string
	jsonOutput bool
}

func newStrategyCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "strategy",
		Aliases: []string{"strategies"},
		Short:   "Inspect the strategy catalog",
	}

	opts := &strategyListOptions{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List enabled strategies and the goals they serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				var descs []strategy.Descriptor
				if opts.goal != "" {
					descs = app.Catalog.ListByGoal(opts.goal)
				} else {
					descs = app.Catalog.List()
				}
				if opts.jsonOutput {
					if descs == nil {
						descs = []strategy.Descriptor{}
					}
					return writeJSON(cmd.OutOrStdout(), descs)
				}

				out := cmd.OutOrStdout()
				if len(descs) == 0 && opts.goal != "" {
					fmt.Fprintf(out, "No strategy serves goal %q.\n", opts.goal)
					if goals := app.Catalog.Goals(); len(goals) > 0 {
						fmt.Fprintf(out, "Known goals: %s\n", strings.Join(goals, ", "))
					}
					return nil
				}
				if len(descs) == 0 {
					fmt.Fprintln(out, "No strategies available.")
					return nil
				}
				writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "ID\tGOALS\tPRIORITY\tREQUIRES\tNAME")
				for _, d := range descs {
					fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n",
						d.ID,
						strings.Join(d.Goals, ","),
						d.Priority,
						requirementsSummary(d.Requirements),
						d.DisplayName,
					)
				}
				return writer.Flush()
			})
		},
	}
	list.Flags().StringVarP(&opts.goal, "goal", "g", "", "Only strategies serving this goal, best first")
	list.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	cmd.AddCommand(list)
	return cmd
}

func requirementsSummary(r strategy.Requirements) string {
	parts := make([]string, 0, len(r.ModelKinds)+len(r.Expressions))
	for _, k := range r.ModelKinds {
		parts = append(parts, string(k))
	}
	parts = append(parts, r.Expressions...)
	return valueOrFallback(strings.Join(parts, "; "), "-")
}
