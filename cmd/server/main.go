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

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/matterhub/sync-engine/internal/config"
	"github.com/matterhub/sync-engine/internal/conflict"
	"github.com/matterhub/sync-engine/internal/database"
	"github.com/matterhub/sync-engine/internal/engine"
	"github.com/matterhub/sync-engine/internal/events"
	"github.com/matterhub/sync-engine/internal/handlers"
	"github.com/matterhub/sync-engine/internal/metrics"
	"github.com/matterhub/sync-engine/internal/monitor"
	"github.com/matterhub/sync-engine/internal/notification"
	"github.com/matterhub/sync-engine/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.Environment == "production" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("Starting Sync Engine Service",
		zap.String("version", "1.0.0"),
		zap.String("environment", cfg.Environment))

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// Result cache backend.
	var cache engine.CacheStore
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		cache = engine.NewRedisCache(client, cfg.Cache.KeyPrefix)
		logger.Info("Using Redis result cache", zap.String("addr", cfg.Cache.RedisAddr))
	default:
		cache = engine.NewMemoryCache()
	}
	defer cache.Close()

	// Optional Kafka event publisher.
	var publisher monitor.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewPublisher(events.Config{
			Brokers:    cfg.Kafka.Brokers,
			SyncTopic:  cfg.Kafka.SyncTopic,
			AlertTopic: cfg.Kafka.AlertTopic,
		}, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	dispatcher := notification.NewDispatcher(notification.Config{
		WebhookURL:     cfg.Alerting.WebhookURL,
		WebhookTimeout: time.Duration(cfg.Alerting.WebhookTimeout) * time.Second,
		EmailFrom:      cfg.Alerting.EmailFrom,
		EmailTo:        cfg.Alerting.EmailTo,
		SMTPAddr:       cfg.Alerting.SMTPAddr,
	}, logger)

	mon := monitor.New(monitor.Config{
		EvaluationInterval:     cfg.Monitor.EvaluationInterval,
		CleanupInterval:        cfg.Monitor.CleanupInterval,
		HistoryRetention:       cfg.Monitor.HistoryRetention,
		ResolvedAlertRetention: cfg.Monitor.ResolvedAlertRetention,
		MaxHistoryEntries:      cfg.Monitor.MaxHistoryEntries,
		Version:                "1.0.0",
	}, collector, dispatcher, publisher, logger)
	defer mon.Close()

	detector := conflict.NewDetector(logger)
	resolver := conflict.NewResolver(logger)

	eng := engine.New(engine.Config{
		BatchSize:       cfg.Sync.BatchSize,
		MaxRetries:      cfg.Sync.MaxRetries,
		BackoffBase:     time.Second,
		CallTimeout:     cfg.Sync.CallTimeout,
		ResultCacheTTL:  cfg.Sync.ResultCacheTTL,
		DefaultStrategy: conflict.Strategy(cfg.Sync.DefaultStrategy),
		MaxHistory:      cfg.Sync.MaxHistory,
	}, detector, resolver, cache, mon, collector, logger)
	mon.SetHealthFunc(eng.HealthCheck)

	// Database-backed endpoints and the sync log share one connection pool.
	if url := cfg.GetDatabaseURL(); url != "" {
		if err := database.Migrate(url, cfg.Database.MigrationsPath, logger); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}

		db, err := sqlx.Connect("postgres", url)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

		dbAdapter := source.NewDatabaseAdapter(db, logger)
		eng.RegisterReader(source.TypeDatabase, dbAdapter)
		eng.RegisterWriter(source.TypeDatabase, dbAdapter)
		resolver.RegisterApplier(source.TypeDatabase, dbAdapter)
		eng.SetRepository(database.NewRepository(db, logger))
		eng.SetPinger(db.DB)
	} else {
		logger.Warn("No database configured; database endpoints and sync log persistence are disabled")
	}

	apiAdapter := source.NewAPIAdapter(cfg.Sync.CallTimeout, logger)
	eng.RegisterReader(source.TypeAPI, apiAdapter)
	eng.RegisterWriter(source.TypeAPI, apiAdapter)
	resolver.RegisterApplier(source.TypeAPI, apiAdapter)

	// HTTP server.
	router := mux.NewRouter()
	httpHandler := handlers.NewHandler(eng, mon, logger)
	httpHandler.SetupRoutes(router)
	if cfg.Monitoring.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// gRPC server exposing the standard health service for platform probes.
	grpcSrv := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("sync-engine", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcSrv, healthServer)
	reflection.Register(grpcSrv)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		logger.Fatal("Failed to create gRPC listener", zap.Error(err))
	}

	go func() {
		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcSrv.Serve(grpcListener); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Starting graceful shutdown")

	healthServer.SetServingStatus("sync-engine", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	eng.Shutdown()
	grpcSrv.GracefulStop()

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer httpCancel()
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Sync Engine Service shutdown completed")
}
