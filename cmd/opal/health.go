package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the OPAL backend is reachable",
		Long:  "Resolves the API endpoint the same way every command does and calls GET /health.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "API:    %s (from %s)\n", a.endpoint.BaseURL, a.endpoint.Source)
			h, err := a.api.Health(ctx)
			if err != nil {
				fmt.Fprintln(out, "Status: UNREACHABLE")
				return err
			}
			fmt.Fprintf(out, "Status: %s\n", h.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	return cmd
}
