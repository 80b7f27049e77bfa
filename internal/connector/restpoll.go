package connector

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantfabric/market-ingest/internal/domain"
)

// maxPollBody bounds how much of a polled response is read per request.
const maxPollBody = 4 << 20

// RESTPolling is a raw-message-capable connector that polls an HTTP
// endpoint on a fixed cadence and forwards each response body as one raw
// payload. Sessions are stateless, so there is no reconnect machinery: a
// failed poll is logged and the next one proceeds on schedule.
type RESTPolling struct {
	name     string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger

	lifecycle sync.Mutex
	running   atomic.Bool
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu          sync.RWMutex
	tickHandler func(domain.Tick)
	barHandler  func(domain.Bar)
	rawConsumer func(string)
}

// NewRESTPolling creates a polling connector fetching endpoint once per
// interval.
func NewRESTPolling(name, endpoint string, interval time.Duration, logger *zap.Logger) *RESTPolling {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &RESTPolling{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		logger:   logger,
	}
}

// Start launches the poll loop. Idempotent, and a no-op once closed: a
// closed connector must be registered anew, not restarted in place.
func (r *RESTPolling) Start() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.closed || r.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running.Store(true)

	r.wg.Add(1)
	go r.loop(ctx)
}

// IsRunning reports whether the poll loop is active.
func (r *RESTPolling) IsRunning() bool {
	return r.running.Load()
}

// SetTickHandler registers the direct tick callback.
func (r *RESTPolling) SetTickHandler(handler func(domain.Tick)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickHandler = handler
}

// SetBarHandler registers the direct bar callback.
func (r *RESTPolling) SetBarHandler(handler func(domain.Bar)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.barHandler = handler
}

// SetRawMessageConsumer registers the consumer for polled payloads.
func (r *RESTPolling) SetRawMessageConsumer(consumer func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rawConsumer = consumer
}

// Close stops the poll loop and waits for the in-flight request to finish.
// Terminal: further Start calls are no-ops.
func (r *RESTPolling) Close() {
	r.lifecycle.Lock()
	if r.closed {
		r.lifecycle.Unlock()
		return
	}
	r.closed = true
	wasRunning := r.running.Load()
	r.running.Store(false)
	cancel := r.cancel
	r.lifecycle.Unlock()

	if wasRunning {
		cancel()
		r.wg.Wait()
	}
}

// Name returns the connector's stable identifier.
func (r *RESTPolling) Name() string {
	return r.name
}

func (r *RESTPolling) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		r.poll(ctx)
	}
}

func (r *RESTPolling) poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		r.logger.Warn("Poll request build failed",
			zap.String("connector", r.name),
			zap.Error(err),
		)
		return
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("Poll failed",
				zap.String("connector", r.name),
				zap.Error(err),
			)
		}
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
	if err != nil {
		r.logger.Warn("Poll body read failed",
			zap.String("connector", r.name),
			zap.Error(err),
		)
		return
	}

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("Poll returned non-OK status",
			zap.String("connector", r.name),
			zap.Int("status", resp.StatusCode),
		)
		return
	}

	r.mu.RLock()
	consumer := r.rawConsumer
	r.mu.RUnlock()

	if consumer != nil && len(body) > 0 {
		consumer(string(body))
	}
}
