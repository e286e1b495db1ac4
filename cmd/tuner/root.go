package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "tuner",
		Short:         "tuner audits a cluster and recommends action plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file (default: ./tuner.yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newAuditCmd(flags))
	cmd.AddCommand(newPlanCmd(flags))
	cmd.AddCommand(newStrategyCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// withApp builds the application for one command invocation and closes it
// afterwards.
func withApp(cmd *cobra.Command, flags *rootFlags, run func(*AppContext) error) error {
	app, err := newAppContext(cmd.Context(), flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()
	return run(app)
}
