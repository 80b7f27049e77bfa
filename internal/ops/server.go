// Package ops exposes the operational HTTP surface: liveness, readiness,
// ingestion status counters, and Prometheus metrics. The control plane
// proper (start/stop RPC, auth) lives outside this service.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantfabric/market-ingest/internal/ingest"
)

// healthStatus is the body of the health and readiness endpoints.
type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

// ingestionStatus is the body of the status endpoint.
type ingestionStatus struct {
	Running    bool                     `json:"running"`
	Connectors []ingest.ConnectorStatus `json:"connectors"`
	Gateway    *gatewayCounters         `json:"gateway,omitempty"`
	Dispatcher dispatcherCounters       `json:"dispatcher"`
}

type gatewayCounters struct {
	Parsed  uint64 `json:"parsed"`
	Dropped uint64 `json:"dropped"`
}

type dispatcherCounters struct {
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
}

// Server serves the ops endpoints for one ingestion service instance.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	service    string
}

// NewServer builds the ops server. registry may be nil to disable /metrics.
func NewServer(port int, serviceName string, svc *ingest.Service, registry prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		logger:  logger,
		service: serviceName,
	}

	r := chi.NewRouter()
	r.Use(recovery(logger))
	r.Use(requestLogging(logger))

	r.Get("/health", s.handleHealth("healthy"))
	r.Get("/ready", s.handleHealth("ready"))
	r.Get("/status", s.handleStatus(svc))
	if registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Ops server started", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Ops server error", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthStatus{
			Status:    status,
			Timestamp: time.Now(),
			Service:   s.service,
		})
	}
}

func (s *Server) handleStatus(svc *ingest.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := svc.Dispatcher()
		body := ingestionStatus{
			Running:    svc.IsRunning(),
			Connectors: svc.Status(),
			Dispatcher: dispatcherCounters{
				Accepted: d.Accepted(),
				Dropped:  d.Dropped(),
			},
		}

		if g := svc.Gateway(); g != nil {
			body.Gateway = &gatewayCounters{
				Parsed:  g.Parsed(),
				Dropped: g.Dropped(),
			}
		}

		writeJSON(w, http.StatusOK, body)
	}
}

// recovery converts handler panics into a 500 JSON response.
func recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panicked",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					writeJSON(w, http.StatusInternalServerError, map[string]string{
						"error": "internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Debug("Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
