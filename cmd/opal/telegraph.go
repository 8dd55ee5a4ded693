package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/opal/internal/config"
	"github.com/zulandar/opal/internal/telegraph"
	discordadapter "github.com/zulandar/opal/internal/telegraph/discord"
	slackadapter "github.com/zulandar/opal/internal/telegraph/slack"
)

func newTelegraphCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "telegraph",
		Aliases: []string{"tg"},
		Short:   "Run the OPAL assistant in Slack or Discord",
		Long:    "Connects to the configured chat platform. Mentioning the bot starts a conversation in a thread; replies in the thread continue it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTelegraph(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OPAL config file")
	return cmd
}

func runTelegraph(cmd *cobra.Command, configPath string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, configPath, appOpts{store: true})
	if err != nil {
		return err
	}
	if a.cfg.Telegraph.Platform == "" {
		return fmt.Errorf("telegraph: no platform configured in %s (add telegraph.platform)", configPath)
	}

	adapter, err := createAdapter(a.cfg.Telegraph)
	if err != nil {
		return err
	}

	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Adapter:       adapter,
		NewController: a.newController,
		ChannelID:     a.cfg.Telegraph.ChannelID,
		Out:           cmd.OutOrStdout(),
		ThreadIdleTTL: a.cfg.Telegraph.ThreadIdleTTL,
		MaxThreads:    a.cfg.Telegraph.MaxThreads,
	})
	if err != nil {
		return err
	}
	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg config.TelegraphConfig) (telegraph.Adapter, error) {
	switch cfg.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Slack.AppToken,
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.ChannelID,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.ChannelID,
		})
	default:
		return nil, fmt.Errorf("telegraph: unsupported platform %q", cfg.Platform)
	}
}
