package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/opal/internal/models"
	"github.com/zulandar/opal/internal/render"
)

func newPlanCmd() *cobra.Command {
	var (
		configPath  string
		contextKV   map[string]string
		constraints []string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "plan <goal>...",
		Short: "Generate a research plan without starting a conversation",
		Long: `Calls POST /chat/plan with the goal and prints the plan as Markdown,
followed by any dependency or step-id warnings. The call is synchronous and
nothing is saved on the backend.`,
		Example: `  opal plan "screen wheat for drought tolerance" --context organism=wheat --constraint "greenhouse only"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}

			req := models.PlanRequest{
				Goal:        strings.Join(args, " "),
				Constraints: constraints,
			}
			if len(contextKV) > 0 {
				req.Context = make(map[string]any, len(contextKV))
				for k, v := range contextKV {
					req.Context[k] = v
				}
			}
			plan, err := a.api.GeneratePlan(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			fmt.Fprint(out, render.PlanMarkdown(plan, models.ValidatePlan(plan)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().StringToStringVar(&contextKV, "context", nil, "extra planning context as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&constraints, "constraint", nil, "constraint the plan must respect (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw plan as JSON")
	return cmd
}
