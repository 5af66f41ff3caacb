package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chat-realtime/internal/observability"
	"chat-realtime/internal/telemetry"
)

// SocketHandler admits websocket upgrades on GET /ws and runs the connection.
type SocketHandler struct {
	hub        *Hub
	gate       *Gate
	audit      *telemetry.AuditEmitter
	upgrader   websocket.Upgrader
	cookieName string
	logger     *zap.Logger
}

func NewSocketHandler(hub *Hub, gate *Gate, audit *telemetry.AuditEmitter, allowedOrigins []string, cookieName string, logger *zap.Logger) *SocketHandler {
	policy := newOriginPolicy(allowedOrigins, logger)
	return &SocketHandler{
		hub:   hub,
		gate:  gate,
		audit: audit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		cookieName: cookieName,
		logger:     logger,
	}
}

// Handle authenticates before upgrading, so a refused attempt never reaches
// the registry. The request goroutine then serves reads until the socket closes.
func (h *SocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")

	requestID := handshakeRequestID(c.Request)

	user, err := h.gate.Admit(ctx, CredentialFromRequest(c.Request, h.cookieName))
	if err != nil {
		reason := clientMessage(err)
		span.SetStatus(codes.Error, reason)
		span.End()
		h.audit.Emit(ctx, "WARN", "websocket connection rejected: "+reason, requestID, nil)
		c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
		return
	}
	span.SetAttributes(attribute.String("chat.user_id", user.ID))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.End()
		h.logger.Info("websocket upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	info := newConnInfo(c.Request, requestID, span.SpanContext().TraceID().String())
	client := h.hub.Connect(conn, user, info)
	span.End()

	h.publishLifecycle(ctx, client, "ws_connect", observability.RoutingWSConnect, 0, "")

	go client.writePump()
	reason := client.readPump(ctx, h.hub)

	h.publishLifecycle(context.WithoutCancel(ctx), client, "ws_disconnect", observability.RoutingWSDisconnect, time.Since(info.ConnectedAt), reason)
}

func (h *SocketHandler) publishLifecycle(ctx context.Context, client *Connection, event, routingKey string, duration time.Duration, reason string) {
	info := client.Info()
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     client.ID(),
			"duration_ms": duration.Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   client.User().ID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	err := observability.PublishEvent(ctx, routingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
	if err != nil {
		h.logger.Warn("publish ws event failed", zap.String("event", event), zap.Error(err))
	}
}
