package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/cart/cache"
	cartrepo "github.com/fjod/storefront/internal/cart/repository"
	cartservice "github.com/fjod/storefront/internal/cart/service"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/consumer"
	"github.com/fjod/storefront/internal/httpapi"
	orderrepo "github.com/fjod/storefront/internal/order/repository"
	orderservice "github.com/fjod/storefront/internal/order/service"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, telemetry.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	// Catalog
	catalogRepo, err := catalog.NewRepository(cfg.Catalog.SQLitePath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer catalogRepo.Close()
	if err := catalogRepo.RunMigrations(cfg.Catalog.MigrationsPath); err != nil {
		return fmt.Errorf("catalog migrations: %w", err)
	}
	lookup := catalog.NewGuardedLookup(catalogRepo, catalog.BreakerSettings{
		Timeout:          cfg.Catalog.CallTimeout,
		OpenTimeout:      cfg.Catalog.OpenTimeout,
		FailureThreshold: cfg.Catalog.MaxFailures,
	}, logger)
	logger.Info("catalog ready", "path", cfg.Catalog.SQLitePath)

	// User carts
	mongoDB, err := cartrepo.ConnectMongoDB(ctx, cartrepo.MongoOptions{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			logger.Error("mongo disconnect failed", "error", err)
		}
	}()
	userCarts := cartrepo.NewMongoRepository(mongoDB)
	if err := userCarts.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}
	logger.Info("connected to MongoDB", "database", cfg.Mongo.Database)

	// Guest carts and the cart view cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	guestCarts := cartrepo.NewRedisRepository(redisClient, cfg.Redis.GuestTTL)
	cartCache := cache.NewRedisCache(redisClient, cfg.Redis.CacheTTL)
	logger.Info("connected to Redis", "addr", cfg.Redis.Addr)

	// Orders
	creds := &orderrepo.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		SSLMode:           cfg.Postgres.SSLMode,
		MigrationsDirPath: cfg.Postgres.MigrationsPath,
	}
	orders, err := orderrepo.NewRepository(creds)
	if err != nil {
		return fmt.Errorf("connect to Postgres: %w", err)
	}
	defer orders.Close()
	if err := orders.RunMigrations(creds); err != nil {
		return fmt.Errorf("order migrations: %w", err)
	}
	logger.Info("order database migrations completed")

	carts := cartrepo.NewRouter(guestCarts, userCarts)
	locks := cartservice.NewKeyedMutex()
	engine := pricing.NewEngine(cfg.Pricing.FreeDeliveryThreshold, cfg.Pricing.DeliveryCharge)

	cartService := cartservice.NewCartService(carts, cartCache, lookup, engine, locks, logger.With("component", "cart"))
	checkoutService := checkout.NewService(carts, cartCache, orders, lookup, engine, locks, logger.With("component", "checkout"))
	orderService := orderservice.NewOrderService(orders, logger.With("component", "orders"))

	// Background workers
	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	poller := publisher.NewOutboxPoller(orders,
		publisher.NewKafkaWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...),
		publisher.Options{Interval: cfg.Kafka.PollInterval, BatchSize: cfg.Kafka.BatchSize},
		logger.With("component", "outbox"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(workerCtx)
	}()

	var cleanup *consumer.CartCleanupConsumer
	if cfg.Kafka.ConsumeEnabled {
		cleanup = consumer.NewCartCleanupConsumer(cartService,
			consumer.NewKafkaReader(cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...),
			logger.With("component", "cart-cleanup"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			cleanup.Run(workerCtx)
		}()
	}

	// gRPC health and reflection
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on grpc port: %w", err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		logger.Info("grpc health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve failed", "error", err)
		}
	}()

	// HTTP API
	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: httpapi.NewRouter(httpapi.Services{
			Carts:    cartService,
			Checkout: checkoutService,
			Orders:   orderService,
		}, httpapi.Options{
			RequestTimeout: cfg.RequestTimeout,
			MaxRequestBody: cfg.MaxRequestBody,
			AdminToken:     cfg.AdminToken,
			RateLimit:      cfg.RateLimit.PerSecond,
			RateBurst:      cfg.RateLimit.Burst,
		}, logger.With("component", "http")),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("storefront http listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("http server failed", "error", err)
	}

	healthServer.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()

	stopWorkers()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("background workers stopped cleanly")
	case <-shutdownCtx.Done():
		logger.Warn("background workers did not stop in time")
	}

	if err := poller.Close(); err != nil {
		logger.Error("close kafka writer failed", "error", err)
	}
	if cleanup != nil {
		cleanup.Close()
	}
	logger.Info("storefront stopped")
	return nil
}
