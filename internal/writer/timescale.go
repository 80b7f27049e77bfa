package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quantfabric/market-ingest/internal/domain"
)

const (
	insertTickSQL = `INSERT INTO ticks (time, symbol, bid, ask, last, volume)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertBarSQL = `INSERT INTO bars (start_time, end_time, interval, symbol, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

// TimescaleWriter appends ticks and bars to TimescaleDB hypertables. Every
// write carries its own deadline so a degraded database slows the
// dispatcher worker by at most the query timeout, never indefinitely.
type TimescaleWriter struct {
	pool         *pgxpool.Pool
	logger       *zap.Logger
	queryTimeout time.Duration
}

// Option is a functional option for configuring a TimescaleWriter.
type Option func(*TimescaleWriter)

// WithQueryTimeout bounds each insert.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(w *TimescaleWriter) {
		w.queryTimeout = timeout
	}
}

// NewTimescaleWriter creates a writer over an existing connection pool.
func NewTimescaleWriter(pool *pgxpool.Pool, logger *zap.Logger, opts ...Option) *TimescaleWriter {
	w := &TimescaleWriter{
		pool:         pool,
		logger:       logger,
		queryTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteTick appends a single tick.
func (w *TimescaleWriter) WriteTick(ctx context.Context, t domain.Tick) error {
	if err := t.Validate(); err != nil {
		w.logger.Debug("Writing tick that fails validation", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(ctx, w.queryTimeout)
	defer cancel()

	_, err := w.pool.Exec(ctx, insertTickSQL,
		time.UnixMilli(t.Timestamp).UTC(),
		t.Symbol,
		t.Bid,
		t.Ask,
		t.Last,
		t.Volume,
	)
	if err != nil {
		return fmt.Errorf("insert tick %s: %w", t.Symbol, err)
	}

	return nil
}

// WriteBar appends a single bar.
func (w *TimescaleWriter) WriteBar(ctx context.Context, b domain.Bar) error {
	if err := b.Validate(); err != nil {
		w.logger.Debug("Writing bar that fails validation", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(ctx, w.queryTimeout)
	defer cancel()

	_, err := w.pool.Exec(ctx, insertBarSQL,
		time.UnixMilli(b.Start).UTC(),
		time.UnixMilli(b.End).UTC(),
		b.Interval,
		b.Symbol,
		b.Open,
		b.High,
		b.Low,
		b.Close,
		b.Volume,
	)
	if err != nil {
		return fmt.Errorf("insert bar %s: %w", b.Symbol, err)
	}

	return nil
}

// Close closes the underlying connection pool.
func (w *TimescaleWriter) Close() error {
	w.pool.Close()
	w.logger.Info("TimescaleDB connection pool closed")
	return nil
}
