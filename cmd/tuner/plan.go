package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/pkg/diff"
)

func newPlanCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plan",
		Aliases: []string{"plans", "action-plan"},
		Short:   "Inspect and delete action plans",
	}

	cmd.AddCommand(newPlanShowCmd(flags))
	cmd.AddCommand(newPlanListCmd(flags))
	cmd.AddCommand(newPlanDeleteCmd(flags))
	cmd.AddCommand(newPlanDiffCmd(flags))

	return cmd
}

type planShowOptions struct {
	auditID    string
	jsonOutput bool
}

func newPlanShowCmd(flags *rootFlags) *cobra.Command {
	opts := &planShowOptions{}

	cmd := &cobra.Command{
		Use:   "show [plan-id]",
		Short: "Show an action plan by id or by --audit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (opts.auditID == "") {
				return newCommandError("show action plan", "validating arguments", errors.New("exactly one of <plan-id> or --audit is required"), "")
			}
			return withApp(cmd, flags, func(app *AppContext) error {
				var (
					plan *actionplan.ActionPlan
					err  error
				)
				if opts.auditID != "" {
					plan, err = app.Store.GetPlanForAudit(cmd.Context(), opts.auditID)
				} else {
					plan, err = app.Store.GetActionPlan(cmd.Context(), args[0])
				}
				if err != nil {
					return newCommandError("show action plan", "looking up plan", err, "Run 'tuner plan list' to view action plans.")
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), plan)
				}
				renderPlan(cmd.OutOrStdout(), plan)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.auditID, "audit", "", "Show the plan produced by this audit")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func renderPlan(out io.Writer, plan *actionplan.ActionPlan) {
	fmt.Fprintln(out, styled(out, headingStyle, "Action plan "+plan.ID))
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Audit:   "), plan.AuditID)
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Strategy:"), plan.StrategyID)
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "State:   "), styled(out, planStateStyle(plan.State), string(plan.State)))
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Created: "), formatTime(&plan.CreatedAt))

	fmt.Fprintln(out)
	if len(plan.Actions) == 0 {
		fmt.Fprintln(out, "No actions: the cluster already meets the goal.")
	} else {
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "#\tACTION\tRESOURCE\tPARAMETERS\tSTATE")
		for _, a := range plan.Actions {
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\n", a.Index, a.Type, a.ResourceID, formatParams(a.Parameters), a.State)
		}
		writer.Flush()
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, styled(out, labelStyle, "Efficacy:"))
	for _, ind := range plan.Indicators {
		fmt.Fprintf(out, "  %s = %g%s\n", ind.Name, ind.Value, unitSuffix(ind.Unit))
	}
	g := plan.GlobalEfficacy
	fmt.Fprintf(out, "  %s = %s\n", styled(out, labelStyle, g.Name), styled(out, okStyle, fmt.Sprintf("%g%s", g.Value, unitSuffix(g.Unit))))
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

func formatParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ",")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type planListOptions struct {
	auditID        string
	state          string
	includeDeleted bool
	sortKey        string
	desc           bool
	limit          int
	marker         string
	jsonOutput     bool
}

func newPlanListCmd(flags *rootFlags) *cobra.Command {
	opts := &planListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List action plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				plans, err := app.Store.ListActionPlans(cmd.Context(), actionplan.Filter{
					AuditID:        opts.auditID,
					State:          actionplan.State(opts.state),
					IncludeDeleted: opts.includeDeleted,
					Limit:          opts.limit,
					SortKey:        actionplan.SortKey(opts.sortKey),
					SortDesc:       opts.desc,
					Marker:         opts.marker,
				})
				if err != nil {
					return newCommandError("list action plans", "querying the store", err, "Check the --state, --sort and --marker values.")
				}
				if opts.jsonOutput {
					if plans == nil {
						plans = []actionplan.ActionPlan{}
					}
					return writeJSON(cmd.OutOrStdout(), plans)
				}
				return renderPlanList(cmd.OutOrStdout(), plans)
			})
		},
	}

	cmd.Flags().StringVar(&opts.auditID, "audit", "", "Only plans of this audit")
	cmd.Flags().StringVar(&opts.state, "state", "", "Only plans in this state")
	cmd.Flags().BoolVar(&opts.includeDeleted, "include-deleted", false, "Include soft-deleted plans")
	cmd.Flags().StringVar(&opts.sortKey, "sort", string(actionplan.SortByCreatedAt), "Sort key: created_at, id or state")
	cmd.Flags().BoolVar(&opts.desc, "desc", false, "Sort descending")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum number of plans (0 for all)")
	cmd.Flags().StringVar(&opts.marker, "marker", "", "Resume after this plan id (the last one of the previous page)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func renderPlanList(out io.Writer, plans []actionplan.ActionPlan) error {
	if len(plans) == 0 {
		fmt.Fprintln(out, "No action plans.")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tAUDIT\tSTRATEGY\tSTATE\tACTIONS\tEFFICACY\tCREATED")
	for _, p := range plans {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\t%g%s\t%s\n",
			p.ID,
			p.AuditID,
			p.StrategyID,
			p.State,
			len(p.Actions),
			p.GlobalEfficacy.Value,
			unitSuffix(p.GlobalEfficacy.Unit),
			formatTime(&p.CreatedAt),
		)
	}
	return writer.Flush()
}

func newPlanDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <plan-id>",
		Short: "Soft-delete an action plan and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				if err := app.Store.SoftDeleteActionPlan(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, audit.ErrNotFound) {
						return newCommandError("delete action plan", fmt.Sprintf("looking up plan %q", args[0]), err, "Run 'tuner plan list' to view action plans.")
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted action plan %s\n", args[0])
				return nil
			})
		},
	}
}

func newPlanDiffCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <plan-id> <plan-id>",
		Short: "Compare the actions and efficacy of two action plans",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				plans := make([]*actionplan.ActionPlan, 2)
				for i, id := range args {
					p, err := app.Store.GetActionPlan(cmd.Context(), id)
					if err != nil {
						return newCommandError("diff action plans", fmt.Sprintf("looking up plan %q", id), err, "Run 'tuner plan list --include-deleted' to view action plans.")
					}
					plans[i] = p
				}

				out := cmd.OutOrStdout()
				result := diff.Unified(planLines(plans[0]), planLines(plans[1]), plans[0].ID, plans[1].ID)
				if result == "" {
					fmt.Fprintln(out, "Plans recommend the same actions.")
					return nil
				}
				fmt.Fprint(out, result)
				return nil
			})
		},
	}
}

// planLines renders the comparable content of a plan, one line per action
// and indicator. Ids and timestamps are left out and indicators are ordered
// by name.
func planLines(plan *actionplan.ActionPlan) []string {
	lines := make([]string, 0, len(plan.Actions)+len(plan.Indicators)+2)
	lines = append(lines, "strategy "+plan.StrategyID)
	for _, a := range plan.Actions {
		lines = append(lines, fmt.Sprintf("action %s %s %s", a.Type, a.ResourceID, formatParams(a.Parameters)))
	}
	for _, ind := range plan.Indicators.Sorted() {
		lines = append(lines, fmt.Sprintf("indicator %s = %g%s", ind.Name, ind.Value, unitSuffix(ind.Unit)))
	}
	g := plan.GlobalEfficacy
	lines = append(lines, fmt.Sprintf("global %s = %g%s", g.Name, g.Value, unitSuffix(g.Unit)))
	return lines
}
