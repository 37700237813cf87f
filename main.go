package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"social-events/internal/cache"
	"social-events/internal/config"
	"social-events/internal/db"
	grpcclient "social-events/internal/grpc"
	"social-events/internal/handlers"
	"social-events/internal/logger"
	"social-events/internal/middleware"
	"social-events/internal/notifications"
	"social-events/internal/observability"
	"social-events/internal/rabbitmq"
	"social-events/internal/repositories"
	"social-events/internal/telemetry"
	"social-events/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	log := logger.Configure(logger.Config{
		Level:   cfg.Logging.Level,
		Pretty:  cfg.Logging.Pretty,
		Service: cfg.ServiceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.Telemetry.OTLPEndpoint, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	database, err := db.Connect(cfg.Database.DSN, db.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, db.ChatSchema, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	validator, authCloser, err := grpcclient.NewTokenValidator(cfg.Auth.GRPCAddr, cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to auth grpc")
	}
	defer authCloser.Close()

	var chatRepo repositories.ChatRepository = repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	if cfg.Redis.Addr != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, participant cache disabled")
		} else {
			defer redisClient.Close()
			chatRepo = cache.NewParticipantCache(chatRepo, redisClient, cfg.Redis.ParticipantTTL, log)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("participant cache enabled")
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, log)
	defer publisher.Close()
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("notification publisher ready")
	producer := notifications.NewProducer(publisher, cfg.AMQP.Queue, cfg.AMQP.PublishBuffer, log)

	registry := ws.NewRegistry(log)
	gateway := ws.NewGateway(registry, chatRepo, messageRepo, producer, ws.GatewayConfig{
		StoreTimeout: cfg.Gateway.StoreTimeout,
		MaxBodyRunes: cfg.Gateway.MaxBodyRunes,
	}, log)
	wsHandler := ws.NewHandler(gateway, validator, ws.HandlerConfig{
		SendBuffer:     cfg.Gateway.SendBuffer,
		MaxFrameBytes:  cfg.Gateway.MaxFrameBytes,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}, log)

	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, gateway, cfg.Gateway.MaxBodyRunes)
	eventsHandler := handlers.NewEventsHandler(producer)

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(log))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/chats/:chat_id", authMiddleware, chatHandler.GetChat)
	router.PATCH("/messages/:message_id", authMiddleware, chatHandler.UpdateMessage)
	router.DELETE("/messages/:message_id", authMiddleware, chatHandler.DeleteMessage)
	router.POST("/events/notifications", authMiddleware, eventsHandler.PublishNotification)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, cfg.HTTP.DebugRoutes, map[string]func() any{
		"rooms": func() any { return registry.Snapshot() },
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.HTTP.Port).Msg("chat gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return producer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
		return shutdownTracing(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("chat gateway stopped with error")
		return
	}
	log.Info().Msg("chat gateway stopped")
}
