package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/opal/internal/api"
	"github.com/zulandar/opal/internal/conversation"
	"github.com/zulandar/opal/internal/db"
	"github.com/zulandar/opal/internal/render"
	"gorm.io/gorm"
)

type handlers struct {
	baseCtx context.Context
	ctrl    *conversation.Controller
	convs   Lister
	db      *gorm.DB
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	router.GET("/", h.index)

	apiGroup := router.Group("/api")
	apiGroup.GET("/state", h.state)
	apiGroup.POST("/chat", h.chat)
	apiGroup.POST("/cancel", h.cancel)
	apiGroup.GET("/conversations", h.listConversations)
	apiGroup.POST("/conversations/new", h.newConversation)
	apiGroup.POST("/conversations/:id/load", h.loadConversation)
	apiGroup.GET("/export", h.export)
	apiGroup.GET("/jobs", h.jobs)
	apiGroup.GET("/events", h.events)
}

func (h *handlers) index(c *gin.Context) {
	c.HTML(http.StatusOK, "layout.html", gin.H{
		"state": h.ctrl.State(),
	})
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.State())
}

type chatRequest struct {
	Message string `json:"message" form:"message"`
}

func (h *handlers) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.ctrl.StartTurn(h.baseCtx, req.Message); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, conversation.ErrEmptyMessage):
			status = http.StatusBadRequest
		case errors.Is(err, conversation.ErrTurnInFlight):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, h.ctrl.State())
}

func (h *handlers) cancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": h.ctrl.Cancel()})
}

func (h *handlers) newConversation(c *gin.Context) {
	h.ctrl.NewConversation()
	c.JSON(http.StatusOK, h.ctrl.State())
}

func (h *handlers) loadConversation(c *gin.Context) {
	if err := h.ctrl.LoadConversation(c.Request.Context(), c.Param("id")); err != nil {
		status := api.StatusOf(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.State())
}

func (h *handlers) listConversations(c *gin.Context) {
	if h.convs == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.convs.ListConversations(c.Request.Context(), skip, limit)
	if err != nil {
		status := api.StatusOf(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handlers) export(c *gin.Context) {
	format, err := render.ParseFormat(c.DefaultQuery("format", render.FormatMarkdown))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.ctrl.State()
	doc := s.Document(time.Now())

	name := s.ConversationID
	if name == "" {
		name = "conversation"
	}
	contentType := "text/markdown; charset=utf-8"
	if format == render.FormatJSON {
		contentType = "application/json"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "opal-"+name+"."+format))
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if err := render.Export(c.Writer, doc, format); err != nil {
		c.Error(err)
	}
}

func (h *handlers) jobs(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	recs, err := db.ListJobs(h.db, c.Query("state"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}
