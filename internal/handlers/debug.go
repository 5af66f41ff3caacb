package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

type StatsSource interface {
	Stats() ws.Stats
}

// RegisterDebugRoutes exposes GET /debug/realtime, a snapshot of the live
// connection, room, presence and typing counts. Each call is audited.
func RegisterDebugRoutes(router gin.IRouter, stats StatsSource, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/realtime", func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime core not configured"})
			return
		}
		snapshot := stats.Stats()
		emitter.Emit(c.Request.Context(), "INFO",
			fmt.Sprintf("realtime snapshot: connections=%d rooms=%d online=%d typing=%d",
				snapshot.Connections, snapshot.Rooms, snapshot.OnlineUsers, snapshot.Typing),
			requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, snapshot)
	})
}
