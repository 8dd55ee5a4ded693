package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/opal/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the local web chat dashboard",
		Long:  "Serves a browser UI for one conversation: transcript, plan, sources, live job progress and history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default dashboard.port)")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath string, port int) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, configPath, appOpts{store: true})
	if err != nil {
		return err
	}
	if port == 0 {
		port = a.cfg.Dashboard.Port
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Using API %s (from %s)\n", a.endpoint.BaseURL, a.endpoint.Source)

	return dashboard.Start(ctx, dashboard.StartOpts{
		Controller:    a.newController(),
		Conversations: a.api,
		DB:            a.db,
		Port:          port,
		Out:           cmd.OutOrStdout(),
	})
}
