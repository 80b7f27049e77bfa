package ingest

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/quantfabric/market-ingest/internal/dispatch"
)

// Config holds configuration for the ingestion service.
type Config struct {
	// Service
	ServiceName string
	Environment string

	// Dispatcher
	QueueCapacity  int
	OverflowPolicy string
	DrainTimeout   time.Duration

	// Archiver
	ArchiveDir       string
	ArchiveBatchSize int

	// Time-series store
	OutputMode      string // "csv" or "timescale"
	OutputDir       string // csv mode
	DatabaseURL     string // timescale mode
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Bus topics
	TickTopic string
	BarTopic  string

	// Connectors
	WebSocketURL     string
	RESTEndpoint     string
	RESTPollInterval time.Duration
	ReconnectDelay   time.Duration

	// Ops HTTP server
	OpsPort int
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServiceName:      getEnv("SERVICE_NAME", "market-ingest"),
		Environment:      getEnv("ENV", "development"),
		QueueCapacity:    getEnvInt("QUEUE_CAPACITY", 50_000),
		OverflowPolicy:   getEnv("QUEUE_OVERFLOW_POLICY", "drop_newest"),
		DrainTimeout:     getEnvDuration("DRAIN_TIMEOUT", 5*time.Second),
		ArchiveDir:       getEnv("ARCHIVE_DIR", "data/archive"),
		ArchiveBatchSize: getEnvInt("ARCHIVE_BATCH_SIZE", 10_000),
		OutputMode:       getEnv("OUTPUT_MODE", "csv"),
		OutputDir:        getEnv("OUTPUT_DIR", "data/timeseries"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		MaxConnections:   getEnvInt("DB_MAX_CONNECTIONS", 20),
		MinConnections:   getEnvInt("DB_MIN_CONNECTIONS", 2),
		MaxConnLifetime:  getEnvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
		MaxConnIdleTime:  getEnvDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
		TickTopic:        getEnv("TICK_TOPIC", "market.ticks"),
		BarTopic:         getEnv("BAR_TOPIC", "market.bars"),
		WebSocketURL:     getEnv("WS_URL", ""),
		RESTEndpoint:     getEnv("REST_URL", ""),
		RESTPollInterval: getEnvDuration("REST_POLL_INTERVAL", time.Second),
		ReconnectDelay:   getEnvDuration("RECONNECT_DELAY", 5*time.Second),
		OpsPort:          getEnvInt("OPS_PORT", 8081),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive, got: %d", c.QueueCapacity)
	}

	if _, err := dispatch.ParsePolicy(c.OverflowPolicy); err != nil {
		return fmt.Errorf("QUEUE_OVERFLOW_POLICY: %w", err)
	}

	if c.ArchiveBatchSize <= 0 {
		return fmt.Errorf("ARCHIVE_BATCH_SIZE must be positive, got: %d", c.ArchiveBatchSize)
	}

	if c.OutputMode != "csv" && c.OutputMode != "timescale" {
		return fmt.Errorf("OUTPUT_MODE must be 'csv' or 'timescale', got: %s", c.OutputMode)
	}

	if c.OutputMode == "timescale" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when OUTPUT_MODE=timescale")
	}

	if c.RESTPollInterval <= 0 {
		return fmt.Errorf("REST_POLL_INTERVAL must be positive, got: %s", c.RESTPollInterval)
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be positive, got: %s", c.ReconnectDelay)
	}

	return nil
}

// Policy returns the parsed overflow policy. Call Validate first.
func (c *Config) Policy() dispatch.OverflowPolicy {
	p, _ := dispatch.ParsePolicy(c.OverflowPolicy)
	return p
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
