package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/tuner/internal/app/decision"
	"github.com/alexisbeaulieu97/tuner/internal/domain/actionplan"
	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/tui"
)

func newAuditCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "audit",
		Aliases: []string{"audits"},
		Short:   "Create, run and inspect audits",
	}

	cmd.AddCommand(newAuditCreateCmd(flags))
	cmd.AddCommand(newAuditRunCmd(flags))
	cmd.AddCommand(newAuditShowCmd(flags))
	cmd.AddCommand(newAuditListCmd(flags))
	cmd.AddCommand(newAuditCancelCmd(flags))

	return cmd
}

type auditCreateOptions struct {
	name       string
	goal       string
	strategyID string
	params     []string
	run        bool
	jsonOutput bool
}

func newAuditCreateCmd(flags *rootFlags) *cobra.Command {
	opts := &auditCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a PENDING audit for a goal or a strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(opts.params)
			if err != nil {
				return newCommandError("create audit", "parsing --param", err, "Use --param key=value, once per parameter.")
			}
			return withApp(cmd, flags, func(app *AppContext) error {
				return runAuditCreate(cmd, app, opts, params)
			})
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Audit name")
	cmd.Flags().StringVarP(&opts.goal, "goal", "g", "", "Optimization goal")
	cmd.Flags().StringVarP(&opts.strategyID, "strategy", "s", "", "Strategy id, takes precedence over --goal")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Strategy parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.run, "run", false, "Execute the audit right away")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runAuditCreate(cmd *cobra.Command, app *AppContext, opts *auditCreateOptions, params map[string]interface{}) error {
	a, err := app.Runner.Create(cmd.Context(), decision.CreateRequest{
		Name:       opts.name,
		Goal:       opts.goal,
		StrategyID: opts.strategyID,
		Parameters: params,
	})
	if err != nil {
		return newCommandError("create audit", "validating request", err, "Pass --goal or --strategy. Run 'tuner strategy list' to see what is available.")
	}

	if !opts.run {
		if opts.jsonOutput {
			return writeJSON(cmd.OutOrStdout(), a)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created audit %s (%s)\n", a.ID, a.State)
		return nil
	}

	return runAudits(cmd, app, []string{a.ID}, opts.jsonOutput)
}

type auditRunOptions struct {
	jsonOutput bool
}

func newAuditRunCmd(flags *rootFlags) *cobra.Command {
	opts := &auditRunOptions{}

	cmd := &cobra.Command{
		Use:   "run <audit-id>...",
		Short: "Execute PENDING audits and persist their action plans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				return runAudits(cmd, app, args, opts.jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

type runResultJSON struct {
	AuditID    string                 `json:"audit_id"`
	State      audit.State            `json:"state"`
	ActionPlan *actionplan.ActionPlan `json:"action_plan,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// runAudits executes ids, showing live progress on a terminal. The command
// fails when any audit did not succeed.
func runAudits(cmd *cobra.Command, app *AppContext, ids []string, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var results []decision.Result
	if !jsonOutput && isTerminal(out) {
		var err error
		results, err = runWithProgress(ctx, cancel, app, ids, out)
		if err != nil {
			return err
		}
	} else {
		results = app.Runner.ExecuteMany(ctx, ids)
	}

	failed, unselectable := 0, 0
	payload := make([]runResultJSON, len(results))
	for i, res := range results {
		payload[i] = runResultJSON{AuditID: res.AuditID, ActionPlan: res.Plan, State: audit.StateSucceeded}
		if res.Err != nil {
			failed++
			if audit.CodeOf(res.Err).IsSelection() {
				unselectable++
			}
			payload[i].Error = res.Err.Error()
			payload[i].State = stateAfter(cmd.Context(), app, res)
		}
	}

	if jsonOutput {
		if err := writeJSON(out, payload); err != nil {
			return err
		}
	} else if !isTerminal(out) {
		renderRunTable(out, payload)
	}

	if failed == 0 {
		return nil
	}
	err := fmt.Errorf("%d of %d audits did not succeed", failed, len(results))
	if unselectable > 0 {
		return newCommandError("run audits", "selecting strategies", err,
			"Run 'tuner strategy list' to see goals and strategies. Strategies that read cluster data need cluster.snapshot_path.")
	}
	return err
}

// stateAfter reads back the stored state of a failed execution. Rejected
// executions leave the audit untouched.
func stateAfter(ctx context.Context, app *AppContext, res decision.Result) audit.State {
	a, err := app.Store.GetAudit(context.WithoutCancel(ctx), res.AuditID)
	if err != nil {
		return ""
	}
	return a.State
}

func runWithProgress(ctx context.Context, cancel context.CancelFunc, app *AppContext, ids []string, out io.Writer) ([]decision.Result, error) {
	program := tea.NewProgram(tui.NewModel("audit run", ids), tea.WithOutput(out), tea.WithContext(ctx))

	stop, err := tui.Forward(app.Events, program.Send)
	if err != nil {
		return nil, err
	}
	defer stop()

	done := make(chan error, 1)
	go func() {
		final, err := program.Run()
		if m, ok := final.(tui.Model); ok && m.Interrupted() {
			cancel()
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			err = nil
		}
		done <- err
	}()

	results := app.Runner.ExecuteMany(ctx, ids)
	program.Send(tui.DoneMsg{})
	if err := <-done; err != nil {
		return results, err
	}
	return results, nil
}

func renderRunTable(out io.Writer, results []runResultJSON) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "AUDIT\tSTATE\tPLAN\tACTIONS\tERROR")
	for _, r := range results {
		planID, actions := "-", "-"
		if r.ActionPlan != nil {
			planID = r.ActionPlan.ID
			actions = fmt.Sprint(len(r.ActionPlan.Actions))
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", r.AuditID, valueOrFallback(string(r.State), "-"), planID, actions, valueOrFallback(r.Error, "-"))
	}
	writer.Flush()
}

type auditShowOptions struct {
	jsonOutput bool
}

type auditShowJSON struct {
	Audit      *audit.Audit           `json:"audit"`
	ActionPlan *actionplan.ActionPlan `json:"action_plan,omitempty"`
}

func newAuditShowCmd(flags *rootFlags) *cobra.Command {
	opts := &auditShowOptions{}

	cmd := &cobra.Command{
		Use:   "show <audit-id>",
		Short: "Show an audit and its action plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				return runAuditShow(cmd, app, args[0], opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runAuditShow(cmd *cobra.Command, app *AppContext, id string, opts *auditShowOptions) error {
	ctx := cmd.Context()
	a, err := app.Store.GetAudit(ctx, id)
	if err != nil {
		return newCommandError("show audit", fmt.Sprintf("looking up audit %q", id), err, "Run 'tuner audit list' to view audits.")
	}

	var plan *actionplan.ActionPlan
	if a.State == audit.StateSucceeded {
		plan, err = app.Store.GetPlanForAudit(ctx, id)
		if err != nil && !errors.Is(err, audit.ErrNotFound) {
			return err
		}
	}

	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), auditShowJSON{Audit: a, ActionPlan: plan})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Audit:   "), a.ID)
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Name:    "), a.Name)
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "State:   "), styled(out, auditStateStyle(a.State), string(a.State)))
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Goal:    "), valueOrFallback(a.Goal, "-"))
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Strategy:"), valueOrFallback(a.StrategyID, "-"))
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Created: "), formatTime(&a.CreatedAt))
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Started: "), formatTime(a.StartedAt))
	fmt.Fprintf(out, "%s %s\n", styled(out, labelStyle, "Finished:"), formatTime(a.FinishedAt))
	if a.FailureCode != "" {
		fmt.Fprintf(out, "%s %s: %s\n", styled(out, labelStyle, "Failure: "), styled(out, errStyle, string(a.FailureCode)), a.FailureReason)
	}
	if len(a.Parameters) > 0 {
		fmt.Fprintln(out, styled(out, labelStyle, "Parameters:"))
		for _, k := range sortedKeys(a.Parameters) {
			fmt.Fprintf(out, "  %s = %v\n", k, a.Parameters[k])
		}
	}
	if plan != nil {
		fmt.Fprintln(out)
		renderPlan(out, plan)
	}
	return nil
}

type auditListOptions struct {
	state      string
	goal       string
	strategyID string
	limit      int
	jsonOutput bool
}

func newAuditListCmd(flags *rootFlags) *cobra.Command {
	opts := &auditListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audits, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				return runAuditList(cmd, app, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.state, "state", "", "Only audits in this state")
	cmd.Flags().StringVarP(&opts.goal, "goal", "g", "", "Only audits for this goal")
	cmd.Flags().StringVarP(&opts.strategyID, "strategy", "s", "", "Only audits for this strategy")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "Maximum number of audits (0 for all)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runAuditList(cmd *cobra.Command, app *AppContext, opts *auditListOptions) error {
	audits, err := app.Store.ListAudits(cmd.Context(), audit.Filter{
		State:      audit.State(opts.state),
		Goal:       opts.goal,
		StrategyID: opts.strategyID,
		Limit:      opts.limit,
	})
	if err != nil {
		return newCommandError("list audits", "querying the store", err, "Check the --state value.")
	}

	if opts.jsonOutput {
		if audits == nil {
			audits = []audit.Audit{}
		}
		return writeJSON(cmd.OutOrStdout(), audits)
	}

	out := cmd.OutOrStdout()
	if len(audits) == 0 {
		fmt.Fprintln(out, "No audits yet.")
		fmt.Fprintln(out, "\nRun 'tuner audit create --goal <goal>' to create one.")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tNAME\tSTATE\tGOAL\tSTRATEGY\tCREATED")
	for _, a := range audits {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.Name,
			a.State,
			valueOrFallback(a.Goal, "-"),
			valueOrFallback(a.StrategyID, "-"),
			formatTime(&a.CreatedAt),
		)
	}
	return writer.Flush()
}

func newAuditCancelCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <audit-id>",
		Short: "Cancel a PENDING or ONGOING audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				a, err := app.Runner.Cancel(cmd.Context(), args[0])
				if err != nil {
					return newCommandError("cancel audit", fmt.Sprintf("cancelling %q", args[0]), err, "Only PENDING or ONGOING audits can be cancelled.")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Audit %s is %s\n", a.ID, a.State)
				return nil
			})
		},
	}
}
