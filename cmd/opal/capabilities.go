package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/opal/internal/api"
	"github.com/zulandar/opal/internal/models"
)

func newCapabilitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "Browse the lab capability registry",
	}

	cmd.AddCommand(newCapabilitiesListCmd())
	cmd.AddCommand(newCapabilitiesSearchCmd())
	cmd.AddCommand(newCapabilitiesShowCmd())
	return cmd
}

func newCapabilitiesListCmd() *cobra.Command {
	var (
		configPath string
		filter     api.CapabilityFilter
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			caps, err := a.api.ListCapabilities(ctx, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(caps) == 0 {
				fmt.Fprintln(out, "No capabilities.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLAB\tFACILITY\tMODALITIES")
			for _, c := range caps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					c.ID, truncate(c.Name, 40), orDash(c.LabName), orDash(c.FacilityName), orDash(strings.Join(c.Modalities, ",")))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().StringVar(&filter.LabID, "lab", "", "filter by lab ID")
	cmd.Flags().StringVar(&filter.FacilityID, "facility", "", "filter by facility ID")
	cmd.Flags().IntVar(&filter.Skip, "skip", 0, "number of capabilities to skip")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of capabilities")
	return cmd
}

func newCapabilitiesSearchCmd() *cobra.Command {
	var (
		configPath string
		query      api.CapabilityQuery
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over capabilities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query.Q = strings.Join(args, " ")
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			results, err := a.api.SearchCapabilities(ctx, query)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintf(out, "No capabilities match %q.\n", query.Q)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tID\tNAME\tLAB\tEVIDENCE")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					formatScore(r.RelevanceScore), r.Capability.ID, truncate(r.Capability.Name, 40), orDash(r.Capability.LabName), len(r.SourceChunks))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().StringVar(&query.Lab, "lab", "", "restrict to a lab")
	cmd.Flags().StringVar(&query.Modality, "modality", "", "restrict to a modality")
	cmd.Flags().StringSliceVar(&query.Tags, "tag", nil, "restrict to tags (repeatable)")
	cmd.Flags().IntVar(&query.TopK, "top", 10, "maximum number of results")
	return cmd
}

func newCapabilitiesShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one capability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			c, err := a.api.GetCapability(ctx, args[0])
			if err != nil {
				return err
			}
			printCapability(cmd, c)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	return cmd
}

func printCapability(cmd *cobra.Command, c *models.Capability) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", c.Name, c.ID)
	fmt.Fprintf(out, "Lab:        %s, %s\n", orDash(c.LabName), orDash(c.LabInstitution))
	fmt.Fprintf(out, "Facility:   %s\n", orDash(c.FacilityName))
	fmt.Fprintf(out, "Modalities: %s\n", orDash(strings.Join(c.Modalities, ", ")))
	fmt.Fprintf(out, "Throughput: %s\n", orDash(c.Throughput))
	fmt.Fprintf(out, "Readiness:  %s\n", orDash(c.ReadinessLevel))
	fmt.Fprintf(out, "Outputs:    %s\n", orDash(strings.Join(c.TypicalOutputs, ", ")))
	fmt.Fprintf(out, "Tags:       %s\n", orDash(strings.Join(c.Tags, ", ")))
	printMap(cmd, "Sample requirements", c.SampleRequirements)
	printMap(cmd, "Constraints", c.Constraints)
	if c.Description != "" {
		fmt.Fprintf(out, "\n%s\n", c.Description)
	}
}

// printMap prints a free-form object with sorted keys.
func printMap(cmd *cobra.Command, heading string, m map[string]any) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:\n", heading)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: %v\n", k, m[k])
	}
}

func newLabsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "labs",
		Short: "List OPAL member labs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			labs, err := a.api.ListLabs(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(labs) == 0 {
				fmt.Fprintln(out, "No labs.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tINSTITUTION\tLOCATION")
			for _, l := range labs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.ID, truncate(l.Name, 40), orDash(l.Institution), orDash(l.Location))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	return cmd
}
