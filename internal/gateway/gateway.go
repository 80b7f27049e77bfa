package gateway

import (
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantfabric/market-ingest/internal/domain"
)

// EventSink receives the normalized events produced by the gateway. In
// production this is the ingestion service, which forwards into the
// dispatcher.
type EventSink interface {
	SubmitTick(t domain.Tick)
	SubmitBar(b domain.Bar)
}

// Gateway parses opaque raw payloads into normalized market data events and
// routes them to an EventSink. It never returns an error to the caller: a
// payload produces exactly zero or one event, and anything unparseable is
// counted as dropped.
//
// Gateway is safe to call from many connector goroutines concurrently; the
// only shared state is a pair of atomic counters.
type Gateway struct {
	sink    EventSink
	logger  *zap.Logger
	now     func() time.Time
	parsed  atomic.Uint64
	dropped atomic.Uint64
}

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithClock overrides the ingestion-time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a gateway routing normalized events into sink.
func New(sink EventSink, opts ...Option) *Gateway {
	g := &Gateway{
		sink:   sink,
		logger: zap.NewNop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// OnRaw classifies and normalizes a single raw JSON payload.
//
// Classification order: a payload carrying all of open/high/low/close is a
// bar, even when bid/ask/last are also present; otherwise a payload carrying
// any of bid/ask/last is a tick; anything else is dropped.
func (g *Gateway) OnRaw(payload string) {
	if payload == "" {
		g.drop("empty payload", payload)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		g.drop("malformed payload", payload)
		return
	}

	switch {
	case isBar(fields):
		b, ok := g.toBar(fields)
		if !ok {
			g.drop("bar missing symbol", payload)
			return
		}
		g.sink.SubmitBar(b)
		g.parsed.Add(1)

	case isTick(fields):
		t, ok := g.toTick(fields)
		if !ok {
			g.drop("tick missing symbol", payload)
			return
		}
		g.sink.SubmitTick(t)
		g.parsed.Add(1)

	default:
		g.drop("unrecognized payload", payload)
	}
}

// Parsed returns the number of payloads successfully normalized.
func (g *Gateway) Parsed() uint64 {
	return g.parsed.Load()
}

// Dropped returns the number of payloads rejected.
func (g *Gateway) Dropped() uint64 {
	return g.dropped.Load()
}

func (g *Gateway) drop(reason, payload string) {
	g.dropped.Add(1)
	g.logger.Debug("Dropped raw payload",
		zap.String("reason", reason),
		zap.Int("payload_bytes", len(payload)),
	)
}

func isTick(fields map[string]json.RawMessage) bool {
	return has(fields, "bid") || has(fields, "ask") || has(fields, "last")
}

func isBar(fields map[string]json.RawMessage) bool {
	return has(fields, "open") && has(fields, "high") && has(fields, "low") && has(fields, "close")
}

func (g *Gateway) toTick(fields map[string]json.RawMessage) (domain.Tick, bool) {
	symbol, ok := stringField(fields, "symbol")
	if !ok {
		return domain.Tick{}, false
	}

	ts, ok := intField(fields, "ts")
	if !ok {
		ts = g.now().UnixMilli()
	}

	return domain.Tick{
		Symbol:    symbol,
		Timestamp: ts,
		Bid:       numField(fields, "bid"),
		Ask:       numField(fields, "ask"),
		Last:      numField(fields, "last"),
		Volume:    numField(fields, "volume"),
	}, true
}

func (g *Gateway) toBar(fields map[string]json.RawMessage) (domain.Bar, bool) {
	symbol, ok := stringField(fields, "symbol")
	if !ok {
		return domain.Bar{}, false
	}

	interval, ok := stringField(fields, "interval")
	if !ok {
		interval = "1m"
	}

	start, ok := intField(fields, "start")
	if !ok {
		if start, ok = intField(fields, "ts"); !ok {
			start = g.now().UnixMilli()
		}
	}

	end, ok := intField(fields, "end")
	if !ok {
		end = start + 60_000
	}

	return domain.Bar{
		Symbol:   symbol,
		Interval: interval,
		Start:    start,
		End:      end,
		Open:     numField(fields, "open"),
		High:     numField(fields, "high"),
		Low:      numField(fields, "low"),
		Close:    numField(fields, "close"),
		Volume:   numField(fields, "volume"),
	}, true
}

// Field extraction helpers. Classification looks at key presence only, so
// an explicit null still selects the event kind; value extraction treats
// null like an absent value and defaults instead of rejecting, except for
// symbol.

func has(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// numField returns the numeric value of key, or NaN when the field is
// absent or not a number. NaN is propagated downstream, never substituted
// with zero.
func numField(fields map[string]json.RawMessage, key string) float64 {
	raw, ok := fields[key]
	if !ok {
		return math.NaN()
	}

	// Unmarshal leaves the target untouched on a JSON null, which would
	// read as a price of zero.
	if isNull(raw) {
		return math.NaN()
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return math.NaN()
	}
	return f
}

func intField(fields map[string]json.RawMessage, key string) (int64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}

	if isNull(raw) {
		return 0, false
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}
