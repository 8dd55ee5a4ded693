package telegraph

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Daemon is the main telegraph process. It connects to a chat platform via
// an Adapter and pumps inbound messages to a Bridge until the context is
// cancelled.
type Daemon struct {
	adapter       Adapter
	newController ControllerFactory
	channelID     string
	out           io.Writer
	threadTTL     time.Duration
	maxThreads    int
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter       Adapter
	NewController ControllerFactory
	ChannelID     string    // optional; receives online/offline notices
	Out           io.Writer // defaults to os.Stdout
	ThreadIdleTTL time.Duration
	MaxThreads    int
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.NewController == nil {
		return nil, fmt.Errorf("telegraph: controller factory is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		adapter:       opts.Adapter,
		newController: opts.NewController,
		channelID:     opts.ChannelID,
		out:           out,
		threadTTL:     opts.ThreadIdleTTL,
		maxThreads:    opts.MaxThreads,
	}, nil
}

// Run connects the adapter and blocks until the context is cancelled or the
// adapter closes its inbound channel. In-flight turns finish posting before
// Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Telegraph connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	bridge, err := NewBridge(BridgeOpts{
		Adapter:       d.adapter,
		NewController: d.newController,
		BotUserID:     botUserID,
		Out:           d.out,
		ThreadIdleTTL: d.threadTTL,
		MaxThreads:    d.maxThreads,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build bridge: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	fmt.Fprintf(d.out, "Telegraph online\n")
	d.notice(ctx, "OPAL assistant online. Mention me with a research goal.")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Telegraph shutting down...\n")
			bridge.Wait()
			d.notice(context.Background(), "OPAL assistant going offline")
			if err := d.adapter.Close(); err != nil {
				log.Printf("telegraph: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Telegraph stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Telegraph inbound channel closed\n")
				bridge.Wait()
				return nil
			}
			bridge.Handle(ctx, msg)
		}
	}
}

// notice posts a status line to the configured channel (best-effort).
func (d *Daemon) notice(ctx context.Context, text string) {
	if d.channelID == "" {
		return
	}
	if err := d.adapter.Send(ctx, OutboundMessage{ChannelID: d.channelID, Text: text}); err != nil {
		log.Printf("telegraph: send notice: %v", err)
	}
}
