package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zulandar/opal/internal/api"
	"github.com/zulandar/opal/internal/config"
	"github.com/zulandar/opal/internal/conversation"
	"github.com/zulandar/opal/internal/db"
	"github.com/zulandar/opal/internal/job"
	"gorm.io/gorm"
)

const defaultConfigPath = "opal.yaml"

// app bundles what every backend-facing command needs: the loaded config,
// the resolved endpoint, the API client and, when requested, the local store.
type app struct {
	cfg      *config.Config
	endpoint *config.Endpoint
	api      *api.Client
	db       *gorm.DB // nil unless opened
}

// appOpts selects optional parts of the app.
type appOpts struct {
	store   bool
	verbose bool
	logTo   io.Writer // verbose request log; stderr when nil
}

// openApp loads the config, resolves the API endpoint once, and builds the
// client every command shares.
func openApp(ctx context.Context, configPath string, opts appOpts) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	endpoint := config.ResolveEndpoint(ctx, nil, cfg.API)
	clientOpts := api.ClientOpts{
		BaseURL:    endpoint.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.API.Timeout},
		CacheSize:  cfg.API.CacheSize,
		CacheTTL:   cfg.API.CacheTTL,
	}
	if opts.verbose {
		w := opts.logTo
		if w == nil {
			w = os.Stderr
		}
		// The client prefixes its own lines.
		clientOpts.Logger = log.New(w, "", log.LstdFlags)
	}
	client, err := api.New(clientOpts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, endpoint: endpoint, api: client}
	if opts.store {
		gdb, err := db.Open(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.db = gdb
	}
	return a, nil
}

// jobRecorder returns the store-backed recorder, or nil without a store.
func (a *app) jobRecorder() job.Recorder {
	if a.db == nil {
		return nil
	}
	return db.JobRecorder{DB: a.db}
}

// newController creates a conversation controller wired to the backend.
func (a *app) newController() *conversation.Controller {
	return conversation.NewController(conversation.ControllerOpts{
		API:             a.api,
		Jobs:            job.NewClient(a.api, a.jobRecorder()),
		Welcome:         a.cfg.Chat.WelcomeMessage,
		LoadErrorPolicy: a.cfg.Chat.LoadErrorPolicy,
		Wait: job.WaitOpts{
			MaxWaitTime:  a.cfg.Chat.MaxWait,
			PollInterval: a.cfg.Chat.PollInterval,
		},
	})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
