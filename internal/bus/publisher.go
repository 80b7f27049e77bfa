// Package bus provides the in-process event bus Publisher sink. Downstream
// consumers subscribe by symbol-suffixed topic, which preserves partition
// affinity per instrument the same way a keyed broker topic would.
package bus

import (
	"context"
	"fmt"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/quantfabric/market-ingest/internal/domain"
)

// Publisher publishes normalized events onto an in-process EventBus.
// Subscribers are invoked asynchronously, so publishing never blocks the
// dispatcher worker on a slow consumer.
type Publisher struct {
	bus       EventBus.Bus
	tickTopic string
	barTopic  string
	logger    *zap.Logger
}

// Option is a functional option for configuring a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger for the publisher.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New creates a bus publisher with the given topic prefixes. Events land on
// "<topic>.<symbol>" as well as on the firehose topic "<topic>".
func New(tickTopic, barTopic string, opts ...Option) *Publisher {
	p := &Publisher{
		bus:       EventBus.New(),
		tickTopic: tickTopic,
		barTopic:  barTopic,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PublishTick publishes a tick to its symbol topic and the firehose topic.
func (p *Publisher) PublishTick(ctx context.Context, t domain.Tick) error {
	p.bus.Publish(p.tickTopic, t)
	p.bus.Publish(symbolTopic(p.tickTopic, t.Symbol), t)
	return nil
}

// PublishBar publishes a bar to its symbol topic and the firehose topic.
func (p *Publisher) PublishBar(ctx context.Context, b domain.Bar) error {
	p.bus.Publish(p.barTopic, b)
	p.bus.Publish(symbolTopic(p.barTopic, b.Symbol), b)
	return nil
}

// SubscribeTicks registers an asynchronous handler for one symbol's ticks.
// An empty symbol subscribes to the firehose.
func (p *Publisher) SubscribeTicks(symbol string, handler func(domain.Tick)) error {
	topic := p.tickTopic
	if symbol != "" {
		topic = symbolTopic(p.tickTopic, symbol)
	}

	if err := p.bus.SubscribeAsync(topic, handler, false); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	p.logger.Debug("Subscribed to topic", zap.String("topic", topic))
	return nil
}

// SubscribeBars registers an asynchronous handler for one symbol's bars.
// An empty symbol subscribes to the firehose.
func (p *Publisher) SubscribeBars(symbol string, handler func(domain.Bar)) error {
	topic := p.barTopic
	if symbol != "" {
		topic = symbolTopic(p.barTopic, symbol)
	}

	if err := p.bus.SubscribeAsync(topic, handler, false); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	p.logger.Debug("Subscribed to topic", zap.String("topic", topic))
	return nil
}

// Close waits for in-flight asynchronous deliveries to finish.
func (p *Publisher) Close() error {
	p.bus.WaitAsync()
	return nil
}

func symbolTopic(topic, symbol string) string {
	return topic + "." + symbol
}
