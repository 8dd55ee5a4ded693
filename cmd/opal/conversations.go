package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/opal/internal/models"
	"github.com/zulandar/opal/internal/render"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage saved conversations",
	}

	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsShowCmd())
	cmd.AddCommand(newConversationsRenameCmd())
	cmd.AddCommand(newConversationsDeleteCmd())
	cmd.AddCommand(newConversationsExportCmd())
	return cmd
}

func newConversationsListCmd() *cobra.Command {
	var (
		configPath string
		skip       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			list, err := a.api.ListConversations(ctx, skip, limit)
			if err != nil {
				return err
			}
			printConversations(cmd, list)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().IntVar(&skip, "skip", 0, "number of conversations to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of conversations")
	return cmd
}

func printConversations(cmd *cobra.Command, list []models.ConversationSummary) {
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, truncate(orDash(c.DisplayTitle()), 50), c.MessageCount, formatTime(c.UpdatedAt))
	}
	w.Flush()
}

func newConversationsShowCmd() *cobra.Command {
	var (
		configPath string
		showPlan   bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a conversation's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			d, err := a.api.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			title := "Untitled conversation"
			if d.Title != nil && *d.Title != "" {
				title = *d.Title
			}
			fmt.Fprintf(out, "%s (%s)\n", title, d.ID)
			fmt.Fprintf(out, "Created %s, updated %s\n\n", formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
			fmt.Fprint(out, render.Transcript(d.Messages))
			if showPlan {
				fmt.Fprintln(out)
				fmt.Fprint(out, render.PlanMarkdown(d.Plan, models.ValidatePlan(d.Plan)))
			}
			if len(d.Sources) > 0 {
				fmt.Fprintf(out, "\n%d sources cited\n", len(d.Sources))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().BoolVar(&showPlan, "plan", false, "also print the plan")
	return cmd
}

func newConversationsRenameCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			d, err := a.api.RenameConversation(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", d.ID, args[1])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	return cmd
}

func newConversationsDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			resp, err := a.api.DeleteConversation(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s: %s\n", args[0], resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	return cmd
}

func newConversationsExportCmd() *cobra.Command {
	var (
		configPath string
		format     string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as Markdown or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			d, err := a.api.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			doc := render.DocumentFromDetail(d, time.Now())
			if output == "" || output == "-" {
				return render.Export(cmd.OutOrStdout(), doc, f)
			}
			if err := exportDocument(output, f, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", d.ID, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format (md or json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

