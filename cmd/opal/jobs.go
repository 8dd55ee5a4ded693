package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/opal/internal/db"
	"github.com/zulandar/opal/internal/models"
)

func newJobsCmd() *cobra.Command {
	var (
		configPath string
		state      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show the local history of chat jobs",
		Long:  "Lists chat jobs submitted from this machine, most recent first, from the local store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(context.Background(), configPath, appOpts{store: true})
			if err != nil {
				return err
			}
			recs, err := db.ListJobs(a.db, state, limit)
			if err != nil {
				return err
			}
			printJobs(cmd, recs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (polling, resolved, failed, timed_out, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	return cmd
}

func printJobs(cmd *cobra.Command, recs []models.JobRecord) {
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No jobs recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATE\tSTARTED\tDURATION\tCONVERSATION\tPROMPT")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.JobID, r.State, formatTime(r.StartedAt), formatDuration(r.Duration()), orDash(r.ConversationID), truncate(r.Prompt, 40))
	}
	w.Flush()
}
