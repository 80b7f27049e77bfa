package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantfabric/market-ingest/internal/archive"
	"github.com/quantfabric/market-ingest/internal/bus"
	"github.com/quantfabric/market-ingest/internal/connector"
	"github.com/quantfabric/market-ingest/internal/dispatch"
	"github.com/quantfabric/market-ingest/internal/gateway"
	"github.com/quantfabric/market-ingest/internal/ingest"
	"github.com/quantfabric/market-ingest/internal/ops"
	"github.com/quantfabric/market-ingest/internal/sink"
	"github.com/quantfabric/market-ingest/internal/writer"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg, err := ingest.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting market data ingestion service",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.Int("queue_capacity", cfg.QueueCapacity),
		zap.String("overflow_policy", cfg.OverflowPolicy),
		zap.String("output_mode", cfg.OutputMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sinks: publisher, time-series writer, archiver.
	publisher := bus.New(cfg.TickTopic, cfg.BarTopic, bus.WithLogger(logger))

	tsWriter, err := buildWriter(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize time-series writer", zap.Error(err))
	}

	archiver, err := archive.NewFileArchiver(
		cfg.ArchiveDir,
		archive.WithBatchSize(cfg.ArchiveBatchSize),
		archive.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("Failed to initialize archiver", zap.Error(err))
	}

	// Dispatcher and orchestration.
	registry := prometheus.NewRegistry()
	metrics := dispatch.NewMetrics("market_ingest", registry)

	dispatcher := dispatch.New(publisher, tsWriter, archiver, cfg.QueueCapacity,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
		dispatch.WithOverflowPolicy(cfg.Policy()),
		dispatch.WithDrainTimeout(cfg.DrainTimeout),
	)

	service := ingest.NewService(dispatcher, ingest.WithLogger(logger))
	service.AttachGateway(gateway.New(service, gateway.WithLogger(logger)))

	registerConnectors(cfg, service, logger)
	service.StartAll()

	opsServer := ops.NewServer(cfg.OpsPort, cfg.ServiceName, service, registry, logger)
	opsServer.Start()

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ops server shutdown error", zap.Error(err))
	}

	if err := service.Close(); err != nil {
		logger.Error("Shutdown completed with sink errors", zap.Error(err))
	}

	logger.Info("Market data ingestion service stopped",
		zap.Uint64("events_accepted", dispatcher.Accepted()),
		zap.Uint64("events_dropped", dispatcher.Dropped()),
	)
}

// initLogger creates a zap logger based on environment.
func initLogger(environment string) (*zap.Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build()
}

// buildWriter picks the time-series sink for the configured output mode.
func buildWriter(ctx context.Context, cfg *ingest.Config, logger *zap.Logger) (sink.TimeSeriesWriter, error) {
	if cfg.OutputMode == "csv" {
		logger.Info("Using CSV time-series writer", zap.String("dir", cfg.OutputDir))
		return writer.NewCSVWriter(cfg.OutputDir)
	}

	pool, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Using TimescaleDB time-series writer",
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return writer.NewTimescaleWriter(pool, logger), nil
}

// connectDatabase creates a pgx connection pool.
func connectDatabase(ctx context.Context, cfg *ingest.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to TimescaleDB",
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.Int32("min_connections", poolConfig.MinConns),
	)

	return pool, nil
}

// registerConnectors builds the connectors named by the config.
func registerConnectors(cfg *ingest.Config, service *ingest.Service, logger *zap.Logger) {
	if cfg.WebSocketURL != "" {
		ws := connector.NewWebSocket(
			fmt.Sprintf("websocket:%s", cfg.WebSocketURL),
			cfg.WebSocketURL,
			connector.WithLogger(logger),
			connector.WithRetryDelay(cfg.ReconnectDelay),
		)
		service.RegisterConnector(ws)
	}

	if cfg.RESTEndpoint != "" {
		poll := connector.NewRESTPolling(
			fmt.Sprintf("rest:%s", cfg.RESTEndpoint),
			cfg.RESTEndpoint,
			cfg.RESTPollInterval,
			logger,
		)
		service.RegisterConnector(poll)
	}
}
