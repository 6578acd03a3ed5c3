// README: Websocket endpoint streaming the caller's pool ride events.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"glideway/internal/http/middleware"
	"glideway/internal/realtime"
)

type RealtimeHandler struct {
	feed *realtime.Feed
}

// NewRealtimeHandler accepts a nil feed when no broker is configured; the
// endpoint then answers 503.
func NewRealtimeHandler(feed *realtime.Feed) *RealtimeHandler {
	return &RealtimeHandler{feed: feed}
}

func (h *RealtimeHandler) Serve(c *gin.Context) {
	if h.feed == nil {
		writeError(c, http.StatusServiceUnavailable, "realtime feed not configured")
		return
	}
	h.feed.Serve(c.Writer, c.Request, middleware.CallerUID(c))
}
