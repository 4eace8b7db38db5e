package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huts4u/payout-service/internal/config"
	"github.com/huts4u/payout-service/internal/gateway"
	payoutgrpc "github.com/huts4u/payout-service/internal/grpc"
	"github.com/huts4u/payout-service/internal/handler"
	"github.com/huts4u/payout-service/internal/kafka"
	"github.com/huts4u/payout-service/internal/lock"
	"github.com/huts4u/payout-service/internal/metrics"
	"github.com/huts4u/payout-service/internal/recipient"
	"github.com/huts4u/payout-service/internal/repository"
	"github.com/huts4u/payout-service/internal/scheduler"
	"github.com/huts4u/payout-service/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const serviceName = "payout-service"

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := setupLogger(cfg)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting Payout Service",
		zap.String("environment", cfg.Environment),
		zap.String("httpPort", cfg.HTTPPort),
		zap.String("grpcPort", cfg.GRPCPort),
		zap.String("store", cfg.StoreType),
		zap.String("gateway", cfg.GatewayType),
	)

	ctx := context.Background()

	// Setup tracing
	shutdownTracing := setupTracing(ctx, cfg, logger)

	// Setup Redis client
	redisClient := setupRedis(cfg, logger)
	defer redisClient.Close()

	// Setup stores
	store, partners := setupStores(ctx, cfg, redisClient, logger)

	// Setup gateway
	api := setupGateway(cfg, logger)
	gatewayClient, err := gateway.NewClient(api, gateway.ClientConfig{
		SourceAccount: cfg.GatewaySourceAccount,
		Mode:          cfg.GatewayMode,
		Timeout:       cfg.GatewayTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create gateway client", zap.Error(err))
	}
	logger.Info("Gateway configured", zap.String("gateway", api.Name()))

	// Setup recipient resolver
	locker := lock.NewRedisLocker(redisClient, lock.Options{
		Expiry: cfg.PartnerLockExpiry,
		Tries:  cfg.PartnerLockTries,
	}, logger)
	resolver := recipient.NewResolver(partners, gatewayClient, locker, logger)

	// Setup metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics("payout_service", registry)

	// Setup status producer
	var producer *kafka.Producer
	var events service.EventPublisher
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(cfg.KafkaBrokerList(), cfg.KafkaTopicStatus, logger)
		events = producer
	}

	// Create payout service
	payoutService := service.NewPayoutService(store, resolver, gatewayClient, events,
		appMetrics, logger, cfg.PayoutBatchSize, api.Name())

	// Setup scheduler
	sched, err := scheduler.New(payoutService, scheduler.Config{
		Schedule:  cfg.PayoutSchedule,
		Location:  cfg.Location(),
		BatchSize: cfg.PayoutBatchSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}

	// Setup Gin router
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		gatherer = registry
	}
	router := setupRouter(cfg, logger, payoutService, gatherer)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	// Create gRPC server
	grpcServer := setupGRPCServer(payoutService, logger)

	// Start servers
	startServers(cfg, httpServer, grpcServer, logger)

	// Start scheduler
	if cfg.SchedulerEnabled {
		sched.Start()
	}

	// Start Kafka consumer
	var consumer *kafka.Consumer
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	if cfg.KafkaEnabled {
		consumer = kafka.NewConsumer(cfg.KafkaBrokerList(), cfg.KafkaTopicRun, cfg.KafkaConsumerGroup, payoutService, logger)
		go func() {
			if err := consumer.Start(consumerCtx); err != nil {
				logger.Error("Kafka consumer error", zap.Error(err))
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cancelConsumer()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("Kafka consumer close error", zap.Error(err))
		}
	}

	if cfg.SchedulerEnabled {
		sched.Stop(shutdownCtx)
	}

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("Kafka producer close error", zap.Error(err))
		}
	}

	shutdownTracing(shutdownCtx)

	logger.Info("Payout Service stopped")
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var logger *zap.Logger
	var err error

	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		panic(err)
	}

	return logger
}

func setupTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) func(context.Context) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if cfg.OTLPEndpoint == "" {
		return func(context.Context) {}
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		logger.Warn("Tracing disabled, exporter setup failed", zap.Error(err))
		return func(context.Context) {}
	}

	res := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("Tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Tracer shutdown error", zap.Error(err))
		}
	}
}

func setupRedis(cfg *config.Config, logger *zap.Logger) *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn("Redis connection failed", zap.Error(err))
	} else {
		logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	}

	return redisClient
}

func setupStores(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (repository.LedgerStore, repository.PartnerDirectory) {
	switch cfg.StoreType {
	case "postgres":
		db, err := repository.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		if err := repository.RunMigrations(db, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Using Postgres ledger store")
		return repository.NewPostgresRepository(db), repository.NewPostgresPartnerDirectory(db)

	default:
		logger.Info("Using Redis ledger store")
		return repository.NewRedisRepository(redisClient), repository.NewRedisPartnerDirectory(redisClient)
	}
}

func setupGateway(cfg *config.Config, logger *zap.Logger) gateway.API {
	switch cfg.GatewayType {
	case "http":
		return gateway.NewHTTPAPI(gateway.HTTPConfig{
			BaseURL:   cfg.GatewayBaseURL,
			KeyID:     cfg.GatewayKeyID,
			KeySecret: cfg.GatewayKeySecret,
			Breaker: gateway.BreakerSettings{
				ConsecutiveFailures: uint32(cfg.BreakerFailures),
				OpenTimeout:         cfg.BreakerOpenTimeout,
			},
		}, &http.Client{}, logger)

	default:
		return gateway.NewSimulatedAPI(cfg.SimulatedFailureRate, cfg.SimulatedProcessingTime)
	}
}

func setupRouter(cfg *config.Config, logger *zap.Logger, payoutService *service.PayoutService, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestLogger(logger))

	httpHandler := handler.NewHTTPHandler(payoutService, gatherer, logger)
	httpHandler.SetupRoutes(router)

	return router
}

func setupGRPCServer(payoutService *service.PayoutService, logger *zap.Logger) *grpc.Server {
	grpcServer := grpc.NewServer()

	// Register payout service
	payoutServer := payoutgrpc.NewPayoutServer(payoutService, logger)
	payoutgrpc.RegisterPayoutServiceServer(grpcServer, payoutServer)

	// Register health check
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable reflection for grpcurl
	reflection.Register(grpcServer)

	return grpcServer
}

func startServers(cfg *config.Config, httpServer *http.Server, grpcServer *grpc.Server, logger *zap.Logger) {
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen for gRPC", zap.Error(err))
		}
		logger.Info("Starting gRPC server", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()
}
