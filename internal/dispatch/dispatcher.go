package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantfabric/market-ingest/internal/domain"
	"github.com/quantfabric/market-ingest/internal/sink"
)

// OverflowPolicy decides what happens when an event arrives while the
// dispatch queue is full. Producers are never blocked unless the policy is
// explicitly PolicyBlock.
type OverflowPolicy int

const (
	// PolicyDropNewest discards the incoming event.
	PolicyDropNewest OverflowPolicy = iota
	// PolicyDropOldest evicts the oldest queued event to make room, on the
	// theory that in market data the latest price is the one worth keeping.
	PolicyDropOldest
	// PolicyBlock applies backpressure to the producer until space frees up
	// or the dispatcher shuts down.
	PolicyBlock
)

// String returns the config-file spelling of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case PolicyDropNewest:
		return "drop_newest"
	case PolicyDropOldest:
		return "drop_oldest"
	case PolicyBlock:
		return "block"
	default:
		return fmt.Sprintf("overflow_policy(%d)", int(p))
	}
}

// ParsePolicy parses the config-file spelling of an overflow policy.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "drop_newest", "":
		return PolicyDropNewest, nil
	case "drop_oldest":
		return PolicyDropOldest, nil
	case "block":
		return PolicyBlock, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy: %q", s)
	}
}

// item is the unit carried by the dispatch queue: exactly one of tick or
// bar is set. Items are never mutated after creation.
type item struct {
	tick *domain.Tick
	bar  *domain.Bar
}

// Dispatcher is the single point of acceptance for normalized events. It
// owns a bounded multi-producer queue drained by exactly one worker, which
// fans every accepted event out to the publisher, the time-series writer
// and the archiver, in that fixed order. Serializing all sink access
// through the one worker is what lets the sinks stay lock-free.
type Dispatcher struct {
	publisher sink.Publisher
	writer    sink.TimeSeriesWriter
	archiver  sink.BatchArchiver

	queue  chan item
	policy OverflowPolicy

	logger       *zap.Logger
	metrics      *Metrics
	drainTimeout time.Duration

	accepted atomic.Uint64
	dropped  atomic.Uint64

	accepting atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger for the dispatcher.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics attaches Prometheus metrics to the dispatcher.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithOverflowPolicy sets the behavior on a full queue.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// WithDrainTimeout bounds how long Close waits for the worker to drain the
// queue before closing the sinks anyway.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.drainTimeout = timeout
	}
}

// New creates a dispatcher fanning out to the three sinks. The queue holds
// at most capacity events.
func New(publisher sink.Publisher, writer sink.TimeSeriesWriter, archiver sink.BatchArchiver, capacity int, opts ...Option) *Dispatcher {
	if capacity <= 0 {
		capacity = 1
	}

	d := &Dispatcher{
		publisher:    publisher,
		writer:       writer,
		archiver:     archiver,
		queue:        make(chan item, capacity),
		policy:       PolicyDropNewest,
		logger:       zap.NewNop(),
		drainTimeout: 5 * time.Second,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	d.accepting.Store(true)

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start launches the worker goroutine. Idempotent. Events may be
// submitted before Start; they sit in the queue until the worker runs.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// SubmitTick offers a tick to the queue without blocking (unless the policy
// is PolicyBlock). A shed event is counted, never surfaced as an error.
func (d *Dispatcher) SubmitTick(t domain.Tick) {
	if d.enqueue(item{tick: &t}) {
		d.metrics.RecordAccepted("tick")
	}
}

// SubmitBar offers a bar to the queue without blocking (unless the policy
// is PolicyBlock).
func (d *Dispatcher) SubmitBar(b domain.Bar) {
	if d.enqueue(item{bar: &b}) {
		d.metrics.RecordAccepted("bar")
	}
}

// Accepted returns the number of events accepted into the queue.
func (d *Dispatcher) Accepted() uint64 {
	return d.accepted.Load()
}

// Dropped returns the number of events shed by the overflow policy or
// submitted after shutdown.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) enqueue(it item) bool {
	if !d.accepting.Load() {
		d.drop()
		return false
	}

	switch d.policy {
	case PolicyBlock:
		select {
		case d.queue <- it:
		case <-d.stop:
			d.drop()
			return false
		}

	case PolicyDropOldest:
		select {
		case d.queue <- it:
		default:
			// Evict one to make room, then try once more. A concurrent
			// producer can still win the freed slot, in which case the
			// incoming event is shed after all.
			select {
			case <-d.queue:
				d.drop()
			default:
			}
			select {
			case d.queue <- it:
			default:
				d.drop()
				return false
			}
		}

	default: // PolicyDropNewest
		select {
		case d.queue <- it:
		default:
			d.drop()
			return false
		}
	}

	// A send can race shutdown: Close flips accepting before signaling the
	// worker, and the worker stops draining once the queue reads empty. If
	// acceptance ended while this send was in flight, reclaim one queued
	// event and count it as shed, so nothing sits in the queue counted as
	// accepted but never delivered.
	if !d.accepting.Load() {
		select {
		case <-d.queue:
			d.drop()
			return false
		default:
			// The worker already picked it up.
		}
	}

	d.accepted.Add(1)
	d.metrics.SetQueueDepth(len(d.queue))
	return true
}

func (d *Dispatcher) drop() {
	d.dropped.Add(1)
	d.metrics.RecordDrop()
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case it := <-d.queue:
			d.deliver(it)
		case <-d.stop:
			// Drain whatever was accepted before shutdown.
			for {
				select {
				case it := <-d.queue:
					d.deliver(it)
				default:
					return
				}
			}
		}
	}
}

// deliver fans one event out to all sinks in fixed order. Each call is
// isolated: a failing or panicking sink does not keep the remaining sinks
// from seeing the event, nor does it stop the worker loop.
func (d *Dispatcher) deliver(it item) {
	ctx := context.Background()
	start := time.Now()

	switch {
	case it.tick != nil:
		t := *it.tick
		d.sinkCall("publisher", t.Symbol, func() error { return d.publisher.PublishTick(ctx, t) })
		d.sinkCall("timeseries", t.Symbol, func() error { return d.writer.WriteTick(ctx, t) })
		d.sinkCall("archiver", t.Symbol, func() error { return d.archiver.AcceptTick(ctx, t) })

	case it.bar != nil:
		b := *it.bar
		d.sinkCall("publisher", b.Symbol, func() error { return d.publisher.PublishBar(ctx, b) })
		d.sinkCall("timeseries", b.Symbol, func() error { return d.writer.WriteBar(ctx, b) })
		d.sinkCall("archiver", b.Symbol, func() error { return d.archiver.AcceptBar(ctx, b) })
	}

	d.metrics.ObserveDelivery(time.Since(start).Seconds())
	d.metrics.SetQueueDepth(len(d.queue))
}

func (d *Dispatcher) sinkCall(name, symbol string, call func() error) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordSinkError(name)
			d.logger.Error("Sink panicked",
				zap.String("sink", name),
				zap.String("symbol", symbol),
				zap.Any("panic", r),
			)
		}
	}()

	if err := call(); err != nil {
		d.metrics.RecordSinkError(name)
		d.logger.Error("Sink call failed",
			zap.String("sink", name),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	}
}

// Close stops accepting events, waits up to the drain timeout for the
// worker to deliver everything already accepted, then closes the sinks in
// reverse-priority order. Individual close errors are logged and
// aggregated; none of them blocks the shutdown of the remaining sinks.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		// Make sure the worker exists even if Start was never called, so
		// the drain wait below cannot hang forever.
		d.Start()

		d.accepting.Store(false)
		close(d.stop)

		select {
		case <-d.done:
		case <-time.After(d.drainTimeout):
			d.logger.Warn("Dispatcher drain timed out",
				zap.Duration("timeout", d.drainTimeout),
				zap.Int("queued", len(d.queue)),
			)
		}

		var errs []error
		for _, c := range []struct {
			name  string
			close func() error
		}{
			{"archiver", d.archiver.Close},
			{"timeseries", d.writer.Close},
			{"publisher", d.publisher.Close},
		} {
			if err := c.close(); err != nil {
				d.logger.Error("Sink close failed", zap.String("sink", c.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s close: %w", c.name, err))
			}
		}

		d.closeErr = errors.Join(errs...)
	})

	return d.closeErr
}
