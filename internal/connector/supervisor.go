package connector

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a supervised connector.
type State int32

const (
	// StateIdle means the connector has not been started, or was closed.
	StateIdle State = iota
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateConnected means the connector holds a live upstream session.
	StateConnected
	// StateBackoff means the last attempt failed and a retry is scheduled.
	StateBackoff
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Supervisor owns the connect/retry lifecycle so that concrete connectors
// only implement the connect and disconnect hooks. This is the single place
// reconnection policy lives.
//
// Retries are unbounded. The delay is fixed by default; WithBackoff turns
// on capped exponential growth, reset on every successful connect. A
// connect error (or panic) is caught, logged, and treated as a failed
// attempt; it never terminates the supervisor.
type Supervisor struct {
	name       string
	connect    func() error
	disconnect func() error
	logger     *zap.Logger

	baseDelay     time.Duration
	maxDelay      time.Duration
	backoffFactor float64

	state  atomic.Int32
	closed atomic.Bool

	mu         sync.Mutex
	retryTimer *time.Timer
	curDelay   time.Duration
}

// Option is a functional option for configuring a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger for the supervisor.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithRetryDelay sets the fixed delay between reconnection attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(s *Supervisor) {
		s.baseDelay = delay
	}
}

// WithBackoff enables capped exponential backoff: the delay starts at base,
// grows by factor after each consecutive failure, and never exceeds max.
func WithBackoff(base, max time.Duration, factor float64) Option {
	return func(s *Supervisor) {
		s.baseDelay = base
		s.maxDelay = max
		s.backoffFactor = factor
	}
}

// NewSupervisor creates a supervisor around the given connect/disconnect
// hooks. connect must return only once the session is established (or
// failed); disconnect must be safe to call regardless of session state.
func NewSupervisor(name string, connect, disconnect func() error, opts ...Option) *Supervisor {
	s := &Supervisor{
		name:          name,
		connect:       connect,
		disconnect:    disconnect,
		logger:        zap.NewNop(),
		baseDelay:     5 * time.Second,
		backoffFactor: 1.0,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.curDelay = s.baseDelay
	return s
}

// Start begins connecting asynchronously. Idempotent: only the transition
// out of Idle launches an attempt, and a closed supervisor stays Idle.
func (s *Supervisor) Start() {
	if s.closed.Load() {
		return
	}

	if s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		go s.attempt()
	}
}

// IsRunning reports whether the supervised session is currently connected.
func (s *Supervisor) IsRunning() bool {
	return s.State() == StateConnected
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Name returns the connector's stable identifier.
func (s *Supervisor) Name() string {
	return s.name
}

// ConnectionLost is called by the transport when an established session
// dies. It moves the connector into Backoff and schedules a reconnect,
// unless the supervisor has been closed. A session can die while the
// connect attempt that created it is still in flight, so Connecting is a
// valid source state too; the attempt's own Connected transition then
// fails and the scheduled retry stands.
func (s *Supervisor) ConnectionLost(err error) {
	if s.closed.Load() {
		return
	}

	if s.state.CompareAndSwap(int32(StateConnected), int32(StateBackoff)) ||
		s.state.CompareAndSwap(int32(StateConnecting), int32(StateBackoff)) {
		s.logger.Warn("Connection lost, scheduling reconnect",
			zap.String("connector", s.name),
			zap.Error(err),
		)
		s.scheduleRetry()
	}
}

// Close cancels any pending retry timer, disconnects, and forces Idle.
// Terminal: further Start calls are no-ops. Disconnect errors are logged,
// never propagated.
func (s *Supervisor) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()

	if err := s.disconnect(); err != nil {
		s.logger.Warn("Disconnect error on close",
			zap.String("connector", s.name),
			zap.Error(err),
		)
	}

	s.state.Store(int32(StateIdle))
}

func (s *Supervisor) attempt() {
	if s.closed.Load() {
		return
	}

	s.state.Store(int32(StateConnecting))

	err := s.tryConnect()
	if s.closed.Load() {
		return
	}

	if err == nil {
		// The session may already have died and moved the state to
		// Backoff; the retry it scheduled wins over a stale Connected.
		if s.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
			s.resetDelay()
			s.logger.Info("Connected", zap.String("connector", s.name))
		}
		return
	}

	if s.state.CompareAndSwap(int32(StateConnecting), int32(StateBackoff)) {
		s.logger.Warn("Connect attempt failed",
			zap.String("connector", s.name),
			zap.Error(err),
		)
		s.scheduleRetry()
	}
}

// tryConnect runs the connect hook, converting a panic into a failed
// attempt so the supervisor survives misbehaving transports.
func (s *Supervisor) tryConnect() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connect panicked: %v", r)
		}
	}()

	return s.connect()
}

// scheduleRetry arms exactly one retry timer. Timer-based rather than a
// sleeping goroutine so Close can cancel the pending attempt immediately.
func (s *Supervisor) scheduleRetry() {
	delay := s.nextDelay()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.retryTimer = time.AfterFunc(delay, s.attempt)
}

func (s *Supervisor) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.curDelay
	if s.backoffFactor > 1.0 {
		next := time.Duration(float64(s.curDelay) * s.backoffFactor)
		if s.maxDelay > 0 && next > s.maxDelay {
			next = s.maxDelay
		}
		s.curDelay = next
	}
	return delay
}

func (s *Supervisor) resetDelay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curDelay = s.baseDelay
}
