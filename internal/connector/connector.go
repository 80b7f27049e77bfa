// Package connector holds the upstream feed connectors and the reconnect
// supervisor that owns their lifecycle. Connectors are protocol-agnostic
// shells: they move payloads, they do not interpret them.
package connector

import (
	"github.com/quantfabric/market-ingest/internal/domain"
)

// Connector is the contract every upstream market data connector satisfies
// (WebSocket, REST polling, replay files, test fakes).
type Connector interface {
	// Start begins connecting asynchronously and returns immediately.
	// Idempotent.
	Start()

	// IsRunning reports whether the connector currently holds a live
	// upstream session.
	IsRunning() bool

	// SetTickHandler registers the callback invoked, on the connector's own
	// goroutine, for every normalized tick the connector produces directly.
	SetTickHandler(handler func(domain.Tick))

	// SetBarHandler registers the callback invoked for every normalized bar
	// the connector produces directly.
	SetBarHandler(handler func(domain.Bar))

	// Close cancels any pending retry, disconnects, and is terminal: a
	// closed connector must be re-registered, not restarted in place.
	Close()

	// Name returns a stable identifier for logging and status.
	Name() string
}

// RawMessageCapable is implemented by connectors that receive opaque text
// payloads and route them through the gateway instead of self-parsing. The
// ingestion service detects the capability by type assertion at
// registration time.
type RawMessageCapable interface {
	SetRawMessageConsumer(consumer func(payload string))
}
