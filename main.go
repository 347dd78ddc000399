package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"community-chat/internal/auth"
	"community-chat/internal/chat"
	"community-chat/internal/config"
	"community-chat/internal/db"
	grpcclient "community-chat/internal/grpc"
	"community-chat/internal/handlers"
	"community-chat/internal/middleware"
	"community-chat/internal/observability"
	"community-chat/internal/pagination"
	"community-chat/internal/rabbitmq"
	"community-chat/internal/readstate"
	"community-chat/internal/realtime"
	"community-chat/internal/redisx"
	"community-chat/internal/repositories"
	"community-chat/internal/telemetry"
)

const (
	auditRoutingKey = "audit.community_chat"
	redisChannel    = "community_chat.realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(shutdownCtx)
		}()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s reason=%s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Environment)

	database, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	messageRepo := repositories.NewMessageRepo(database)
	communityRepo := repositories.NewCommunityRepo(database)
	markerRepo := repositories.NewReadMarkerRepo(database)

	validator, closeValidator, err := newValidator(cfg)
	if err != nil {
		log.Fatalf("failed to set up auth: %v", err)
	}
	defer closeValidator()

	var (
		limiter     middleware.Limiter
		idempotency middleware.IdempotencyStore
		bus         realtime.Bus
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		limiter = redisx.NewLimiter(rdb)
		idempotency = redisx.NewIdempotencyStore(rdb)
		if cfg.RealtimeBus == config.BusRedis {
			bus = realtime.NewRedisBus(rdb, redisChannel)
		}
	}
	switch cfg.RealtimeBus {
	case config.BusKafka:
		bus = realtime.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic)
	case config.BusLocal:
		bus = realtime.NewLocalBus(1024)
	}
	defer bus.Close()

	hub := realtime.NewHub()
	broadcaster := realtime.NewBroadcaster(hub, bus)
	go func() {
		if err := broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("realtime bus stopped bus=%s err=%v", bus.Name(), err)
		}
	}()

	tracker := readstate.NewTracker(markerRepo, messageRepo, broadcaster, publisher)
	service := chat.NewService(messageRepo, communityRepo, broadcaster, tracker, publisher)
	pages := pagination.NewEngine(messageRepo, cfg.PageSize, pagination.AroundPolicy(cfg.AroundDefaultPolicy))

	communityHandler := handlers.NewCommunityHandler(communityRepo, tracker)
	messageHandler := handlers.NewMessageHandler(service, pages, tracker, audit)
	wsHandler := realtime.NewHandler(hub, communityRepo, validator, tracker)

	router := gin.New()

	// middlewares
	router.Use(observability.AccessLogger(gin.DefaultWriter), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	authMiddleware := middleware.AuthMiddleware(validator)
	sendLimit := middleware.RateLimit(limiter, "send", cfg.SendRateLimit, cfg.SendRateWindow)
	sendOnce := middleware.Idempotency(idempotency, cfg.IdempotencyTTL)

	router.GET("/communities", authMiddleware, communityHandler.ListCommunities)
	router.GET("/communities/:community_id", authMiddleware, communityHandler.GetCommunity)
	router.GET("/communities/:community_id/messages", authMiddleware, messageHandler.GetMessages)
	router.POST("/communities/:community_id/messages", authMiddleware, sendLimit, sendOnce, messageHandler.PostMessage)
	router.PUT("/communities/:community_id/messages/:message_id", authMiddleware, messageHandler.UpdateMessage)
	router.DELETE("/communities/:community_id/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.POST("/communities/:community_id/read", authMiddleware, messageHandler.MarkRead)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("community chat listening addr=%s env=%s bus=%s auth=%s", srv.Addr, cfg.Environment, bus.Name(), cfg.AuthMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func newValidator(cfg *config.Config) (auth.Validator, func(), error) {
	if cfg.AuthMode == config.AuthModeJWT {
		return auth.NewJWTValidator(cfg.JWTSecret), func() {}, nil
	}

	conn, err := grpc.Dial(cfg.AuthGRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
	if err != nil {
		return nil, nil, err
	}
	return grpcclient.NewAuthClient(conn), func() { _ = conn.Close() }, nil
}
