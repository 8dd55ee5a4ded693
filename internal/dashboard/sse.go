package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/opal/internal/conversation"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
var heartbeatInterval = 15 * time.Second

// events streams controller events. Each connection gets its own buffered
// channel; a slow client drops events rather than blocking the controller.
func (h *handlers) events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := make(chan conversation.Event, 16)
	unsubscribe := h.ctrl.Subscribe(func(ev conversation.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	writeSSE(c.Writer, "state", h.ctrl.State())
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.baseCtx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case ev := <-ch:
			if ev.Kind == conversation.EventProgress {
				writeSSE(c.Writer, "progress", ev.Progress)
			} else {
				writeSSE(c.Writer, "state", ev.State)
			}
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
