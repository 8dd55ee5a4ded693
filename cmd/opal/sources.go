package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage ingested source documents",
	}

	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesShowCmd())
	cmd.AddCommand(newSourcesChunksCmd())
	cmd.AddCommand(newSourcesDeleteCmd())
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	var (
		configPath string
		skip       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List source documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			docs, err := a.api.ListSources(ctx, skip, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, "No sources.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTITLE\tINGESTED")
			for _, d := range docs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Type, truncate(orDash(d.Title), 50), formatTime(d.IngestedAt))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().IntVar(&skip, "skip", 0, "number of sources to skip")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sources")
	return cmd
}

func newSourcesShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one source document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			d, err := a.api.GetSource(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", orDash(d.Title), d.ID)
			fmt.Fprintf(out, "Type:     %s\n", d.Type)
			fmt.Fprintf(out, "Origin:   %s\n", orDash(d.URLOrPath))
			fmt.Fprintf(out, "Ingested: %s\n", formatTime(d.IngestedAt))
			printMap(cmd, "Metadata", d.Metadata)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	return cmd
}

func newSourcesChunksCmd() *cobra.Command {
	var (
		configPath string
		skip       int
		limit      int
		full       bool
	)

	cmd := &cobra.Command{
		Use:   "chunks <id>",
		Short: "List the embedded chunks of a source document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			chunks, err := a.api.ListSourceChunks(ctx, args[0], skip, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(chunks) == 0 {
				fmt.Fprintln(out, "No chunks.")
				return nil
			}
			for _, c := range chunks {
				text := c.Text
				if !full {
					text = truncate(text, 160)
				}
				fmt.Fprintf(out, "#%d %s\n  %s\n", c.ChunkIndex, c.ID, text)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().IntVar(&skip, "skip", 0, "number of chunks to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of chunks")
	cmd.Flags().BoolVar(&full, "full", false, "print full chunk text")
	return cmd
}

func newSourcesDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a source document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx, configPath, appOpts{})
			if err != nil {
				return err
			}
			resp, err := a.api.DeleteSource(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d chunks)\n", args[0], resp.ChunksDeleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	return cmd
}
