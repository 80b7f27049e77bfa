package sink

import (
	"context"

	"github.com/quantfabric/market-ingest/internal/domain"
)

// Publisher fans events out to a message bus for downstream consumers.
// Implementations are expected to key by symbol so that consumers of one
// instrument keep partition affinity. Publishing may be asynchronous
// internally, but must not block the dispatcher worker indefinitely.
type Publisher interface {
	// PublishTick publishes a single tick to the bus.
	PublishTick(ctx context.Context, t domain.Tick) error

	// PublishBar publishes a single bar to the bus.
	PublishBar(ctx context.Context, b domain.Bar) error

	// Close releases bus resources. Pending asynchronous publishes may be
	// dropped.
	Close() error
}

// TimeSeriesWriter appends events to a durable, symbol-partitioned store.
//
// A write failure is the writer's own concern: the dispatcher only requires
// that calls return within a bounded time. Implementations should handle
// their own connection pooling and error recovery.
type TimeSeriesWriter interface {
	// WriteTick appends a single tick.
	WriteTick(ctx context.Context, t domain.Tick) error

	// WriteBar appends a single bar.
	WriteBar(ctx context.Context, b domain.Bar) error

	// Close flushes any pending writes and releases resources.
	Close() error
}

// BatchArchiver buffers events and flushes them to cold storage once an
// internal batch-size threshold is reached, on explicit Flush, or on Close.
//
// Only the dispatcher worker calls Accept* in normal operation, but
// implementations must still be safe if reused elsewhere.
type BatchArchiver interface {
	// AcceptTick buffers a single tick for archival.
	AcceptTick(ctx context.Context, t domain.Tick) error

	// AcceptBar buffers a single bar for archival.
	AcceptBar(ctx context.Context, b domain.Bar) error

	// Flush writes all buffered events to cold storage.
	Flush() error

	// Close flushes remaining events and releases resources.
	Close() error
}
