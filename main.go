package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/cache"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	grpcserver "chat-realtime/internal/grpc"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

const serviceName = "chat-realtime"

func main() {
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.IsDevelopment())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString()
		logger.Warn("JWT_SECRET not set, using a random secret for this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}

	database, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	chatRoomRepo := repositories.NewChatRoomRepo(database)

	jwtManager := auth.NewJWTManager(auth.JWTConfig{SecretKey: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", serviceName, cfg.Env, logger)

	writers := []ws.StatusWriter{userRepo}
	var statuses handlers.StatusReader
	if cfg.RedisAddr != "" {
		redisClient, err := cache.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis presence mirror disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			mirror := cache.NewPresenceCache(redisClient, "", cfg.RedisPresenceTTL)
			writers = append(writers, mirror)
			statuses = mirror
		}
	}
	presence := ws.NewPresence(logger, writers...)
	presenceCtx, stopPresence := context.WithCancel(context.Background())
	defer stopPresence()
	presenceDone := make(chan struct{})
	go func() {
		presence.Run(presenceCtx)
		close(presenceDone)
	}()

	hub := ws.NewHub(userRepo, messageRepo, chatRoomRepo, presence, ws.Options{
		SendBuffer:           cfg.SendBuffer,
		MaxFrameBytes:        cfg.MaxFrameBytes,
		MaxMessageLength:     cfg.MaxMessageLength,
		TypingTimeout:        cfg.TypingTimeout,
		RateLimitPerSecond:   cfg.RateLimitPerSecond,
		RateLimitBurst:       cfg.RateLimitBurst,
		VerifyRoomMembership: cfg.VerifyRoomMembership,
	}, logger)
	gate := ws.NewGate(jwtManager, userRepo, logger)
	socketHandler := ws.NewSocketHandler(hub, gate, audit, cfg.AllowedOrigins, cfg.AccessTokenCookie, logger)
	presenceHandler := handlers.NewPresenceHandler(presence, hub.Registry(), chatRoomRepo, statuses, logger)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	corsMiddleware, err := middleware.CORS(cfg.AllowedOrigins)
	if err != nil {
		logger.Fatal("invalid CORS_ORIGIN", zap.Strings("origins", cfg.AllowedOrigins), zap.Error(err))
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(corsMiddleware)

	authMiddleware := middleware.AuthMiddleware(jwtManager, cfg.AccessTokenCookie)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Registry().ConnectionCount()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", socketHandler.Handle)
	router.GET("/users/:user_id/presence", authMiddleware, presenceHandler.GetUserPresence)
	router.GET("/chat-rooms/:chat_room_id/online", authMiddleware, presenceHandler.ListOnline)
	handlers.RegisterDebugRoutes(router.Group("/", authMiddleware), hub, audit, cfg.DebugRoute)

	grpcSrv := grpcserver.NewServer(logger)
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.Error(err))
	}
	go func() {
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logger.Error("grpc server error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcSrv.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	closed := hub.Shutdown()
	logger.Info("closed websocket connections", zap.Int("count", closed))

	// offline transitions from Shutdown are queued by now
	stopPresence()

	select {
	case <-presenceDone:
	case <-shutdownCtx.Done():
		logger.Warn("presence writes not drained before timeout")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
}
