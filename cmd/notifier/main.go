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
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.AMQP.URL == "" {
		logger.Fatal().Msg("AMQP_URL is required for the notifier")
	}

	service := cfg.ServiceName + "-notifier"
	log := logger.Configure(logger.Config{
		Level:   cfg.Logging.Level,
		Pretty:  cfg.Logging.Pretty,
		Service: service,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, service, cfg.Environment, cfg.Telemetry.OTLPEndpoint, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	database, err := db.Connect(cfg.Database.DSN, db.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, db.NotificationSchema, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	validator, authCloser, err := grpcclient.NewTokenValidator(cfg.Auth.GRPCAddr, cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to auth grpc")
	}
	defer authCloser.Close()

	notificationRepo := repositories.NewNotificationRepo(database)
	processor := notifications.NewProcessor(notificationRepo, cfg.Gateway.StoreTimeout, log)
	consumer := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL: cfg.AMQP.URL,
		Topology: rabbitmq.Topology{
			Queue:           cfg.AMQP.Queue,
			RetryQueue:      cfg.AMQP.RetryQueue,
			DeadLetterQueue: cfg.AMQP.DeadLetterQueue,
		},
		Prefetch:       cfg.AMQP.Prefetch,
		MaxRetries:     cfg.AMQP.MaxRetries,
		BaseRetryDelay: cfg.AMQP.BaseRetryDelay,
		MaxRetryDelay:  cfg.AMQP.MaxRetryDelay,
	}, processor.Process, log)

	notificationHandler := handlers.NewNotificationHandler(notificationRepo)

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(log))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "consumer": consumer.State().String()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/notifications/user/:user_id", authMiddleware, notificationHandler.ListForUser)
	router.PUT("/notifications/:id", authMiddleware, notificationHandler.MarkRead)

	handlers.RegisterDebugRoutes(router, cfg.HTTP.DebugRoutes, map[string]func() any{
		"consumer": func() any { return gin.H{"state": consumer.State().String()} },
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.HTTP.Port).Msg("notifier listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return superviseConsumer(gctx, consumer, log)
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
		log.Error().Err(err).Msg("notifier stopped with error")
		return
	}
	log.Info().Msg("notifier stopped")
}
