package bus

import (
	"context"

	"github.com/quantfabric/market-ingest/internal/domain"
)

// NoOpPublisher discards every event. Used when the deployment has no
// downstream bus consumers.
type NoOpPublisher struct{}

// PublishTick discards the tick.
func (NoOpPublisher) PublishTick(ctx context.Context, t domain.Tick) error { return nil }

// PublishBar discards the bar.
func (NoOpPublisher) PublishBar(ctx context.Context, b domain.Bar) error { return nil }

// Close is a no-op.
func (NoOpPublisher) Close() error { return nil }
