package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opal",
		Short: "OPAL: research plans from lab capabilities",
		Long:  "opal talks to the OPAL backend: chat for research plans, browse conversations, capabilities and sources, and feed the knowledge base.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newConversationsCmd())
	cmd.AddCommand(newCapabilitiesCmd())
	cmd.AddCommand(newLabsCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newDashboardCmd())
	cmd.AddCommand(newTelegraphCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "opal %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
