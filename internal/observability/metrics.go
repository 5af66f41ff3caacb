package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the realtime service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of admitted websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events by name and outcome.",
		},
		[]string{"event", "outcome"},
	)
	wsRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_rejections_total",
			Help: "Connection attempts refused by the gate.",
		},
		[]string{"reason"},
	)
	wsEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_evictions_total",
			Help: "Connections dropped because their outbound queue was full.",
		},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted and fanned out.",
		},
		[]string{"scope"},
	)
	messagePersistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_message_persist_failures_total",
			Help: "Messages rejected because the durable write failed.",
		},
	)
	presenceOnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_presence_online_users",
			Help: "Users with at least one live connection.",
		},
	)
	presenceWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_presence_write_errors_total",
			Help: "Presence status writes that failed after retries.",
		},
	)
	typingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_typing_active",
			Help: "Armed typing indicators.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		wsRejectionsTotal,
		wsEvictionsTotal,
		messagesSentTotal,
		messagePersistFailuresTotal,
		presenceOnlineUsers,
		presenceWriteErrorsTotal,
		typingActive,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event, outcome string) {
	wsEventsTotal.WithLabelValues(event, outcome).Inc()
}

func IncWSRejection(reason string) {
	wsRejectionsTotal.WithLabelValues(reason).Inc()
}

func IncWSEviction() {
	wsEvictionsTotal.Inc()
}

func IncMessageSent(scope string) {
	messagesSentTotal.WithLabelValues(scope).Inc()
}

func IncMessagePersistFailure() {
	messagePersistFailuresTotal.Inc()
}

func SetPresenceOnline(n int) {
	presenceOnlineUsers.Set(float64(n))
}

func IncPresenceWriteError() {
	presenceWriteErrorsTotal.Inc()
}

func SetTypingActive(n int) {
	typingActive.Set(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
