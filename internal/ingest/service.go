// Package ingest orchestrates the ingestion subsystem: it owns the
// dispatcher, the registered connectors, and the optional gateway and
// feature-store hooks, and exposes the start/stop/status surface consumed
// by the control plane.
package ingest

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quantfabric/market-ingest/internal/connector"
	"github.com/quantfabric/market-ingest/internal/dispatch"
	"github.com/quantfabric/market-ingest/internal/domain"
	"github.com/quantfabric/market-ingest/internal/gateway"
)

// FeatureStore is the narrow contract of the feature-store collaborator:
// it receives each bar's closing price keyed by symbol and bar end time.
// Internals (rolling windows, feature queries) live outside this subsystem.
type FeatureStore interface {
	IngestClose(symbol string, tsMillis int64, closePrice float64) error
}

// ConnectorStatus is one connector's state as reported by Status.
type ConnectorStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Service wires connectors to the gateway and the dispatcher. All methods
// are safe for concurrent use.
type Service struct {
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger

	mu         sync.Mutex
	connectors []connector.Connector
	gateway    *gateway.Gateway
	features   FeatureStore
}

// Option is a functional option for configuring a Service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the service and starts the dispatcher's worker.
func NewService(dispatcher *dispatch.Dispatcher, opts ...Option) *Service {
	s := &Service{
		dispatcher: dispatcher,
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	dispatcher.Start()
	return s
}

// RegisterConnector wires c's callbacks into the pipeline. If a gateway is
// attached and c can forward raw payloads, the raw route is wired too.
func (s *Service) RegisterConnector(c connector.Connector) {
	c.SetTickHandler(s.SubmitTick)
	c.SetBarHandler(s.SubmitBar)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gateway != nil {
		wireRaw(c, s.gateway)
	}
	s.connectors = append(s.connectors, c)

	s.logger.Info("Registered connector", zap.String("connector", c.Name()))
}

// AttachGateway attaches the raw-payload gateway, retroactively wiring any
// already-registered raw-capable connectors.
func (s *Service) AttachGateway(g *gateway.Gateway) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gateway = g
	for _, c := range s.connectors {
		wireRaw(c, g)
	}
}

// AttachFeatureStore attaches the optional feature-store hook.
func (s *Service) AttachFeatureStore(fs FeatureStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = fs
}

// SubmitTick feeds a normalized tick into the dispatcher. Entry point for
// both connector callbacks and the gateway.
func (s *Service) SubmitTick(t domain.Tick) {
	s.dispatcher.SubmitTick(t)
}

// SubmitBar feeds a normalized bar into the dispatcher, forwarding the
// close price to the feature store first. Feature-store errors are
// swallowed: the hook is best-effort and never delays dispatch for long or
// fails ingestion.
func (s *Service) SubmitBar(b domain.Bar) {
	s.mu.Lock()
	fs := s.features
	s.mu.Unlock()

	if fs != nil {
		if err := fs.IngestClose(b.Symbol, b.End, b.Close); err != nil {
			s.logger.Debug("Feature store rejected bar close",
				zap.String("symbol", b.Symbol),
				zap.Error(err),
			)
		}
	}

	s.dispatcher.SubmitBar(b)
}

// StartAll starts every registered connector. Connector starts are
// independent: each Start is already asynchronous and idempotent.
func (s *Service) StartAll() {
	for _, c := range s.snapshot() {
		c.Start()
	}
}

// StopAll closes every registered connector. One connector's failure to
// stop does not block the others; Close never propagates errors.
func (s *Service) StopAll() {
	for _, c := range s.snapshot() {
		c.Close()
	}
}

// IsRunning reports whether any registered connector holds a live session.
func (s *Service) IsRunning() bool {
	for _, c := range s.snapshot() {
		if c.IsRunning() {
			return true
		}
	}
	return false
}

// Status returns the per-connector running state.
func (s *Service) Status() []ConnectorStatus {
	connectors := s.snapshot()
	statuses := make([]ConnectorStatus, 0, len(connectors))
	for _, c := range connectors {
		statuses = append(statuses, ConnectorStatus{
			Name:    c.Name(),
			Running: c.IsRunning(),
		})
	}
	return statuses
}

// Gateway returns the attached gateway, or nil.
func (s *Service) Gateway() *gateway.Gateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateway
}

// Dispatcher returns the owned dispatcher.
func (s *Service) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Close stops all connectors, then closes the dispatcher, which drains the
// queue and cascades to sink shutdown.
func (s *Service) Close() error {
	s.StopAll()
	return s.dispatcher.Close()
}

func (s *Service) snapshot() []connector.Connector {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]connector.Connector, len(s.connectors))
	copy(out, s.connectors)
	return out
}

func wireRaw(c connector.Connector, g *gateway.Gateway) {
	if rmc, ok := c.(connector.RawMessageCapable); ok {
		rmc.SetRawMessageConsumer(g.OnRaw)
	}
}
