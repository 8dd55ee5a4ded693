// Package dashboard serves a local web UI for one OPAL conversation: the
// transcript, the current plan, and its sources, with live updates over SSE.
package dashboard

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/opal/internal/conversation"
	"github.com/zulandar/opal/internal/models"
	"github.com/zulandar/opal/internal/render"
	"gorm.io/gorm"
)

// Lister lists persisted conversations for the history sidebar.
type Lister interface {
	ListConversations(ctx context.Context, skip, limit int) ([]models.ConversationSummary, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Controller *conversation.Controller
	// Conversations backs the history list. Optional.
	Conversations Lister
	// DB backs the local job history. Optional.
	DB   *gorm.DB
	Port int
	Out  io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully. Turns started from the UI run under ctx.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Controller == nil {
		return fmt.Errorf("dashboard: controller is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := newRouter(ctx, opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with templates and routes.
func newRouter(ctx context.Context, opts StartOpts) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	h := &handlers{
		baseCtx: ctx,
		ctrl:    opts.Controller,
		convs:   opts.Conversations,
		db:      opts.DB,
	}
	registerRoutes(router, h)
	return router, nil
}

var templateFuncs = template.FuncMap{
	"speaker": func(role string) string {
		if role == models.RoleUser {
			return "You"
		}
		return "OPAL"
	},
	"groupSources": render.GroupSources,
	"planMarkdown": render.PlanMarkdown,
	"progress": func(j *models.Job) string {
		if j == nil {
			return ""
		}
		return render.ProgressLine(*j)
	},
	"percent": func(score float64) string {
		return fmt.Sprintf("%.0f%%", score*100)
	},
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
