package main

import (
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/tuner/internal/server"
)

type serveOptions struct {
	addr string
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the audit and action plan API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(app *AppContext) error {
				addr := app.Config.Server.Addr
				if opts.addr != "" {
					addr = opts.addr
				}
				api := server.NewWebAPI(app.Logger.Zerolog(), server.Config{
					Addr: addr,
					Dependencies: server.Dependencies{
						Runner:  app.Runner,
						Audits:  app.Store,
						Plans:   app.Store,
						Catalog: app.Catalog,
						Metrics: app.Metrics.Handler(),
					},
				})
				return api.Start(cmd.Context())
			})
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address, overrides server.addr")

	return cmd
}
