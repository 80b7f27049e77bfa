package connector

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quantfabric/market-ingest/internal/domain"
)

// WebSocket is a raw-message-capable connector over a WebSocket session.
// Every text frame is forwarded, untouched, to the raw consumer; parsing
// is the gateway's job. Read errors on an established session hand control
// back to the supervisor, which schedules the reconnect.
type WebSocket struct {
	*Supervisor

	url    string
	dialer *websocket.Dialer

	mu          sync.RWMutex
	conn        *websocket.Conn
	tickHandler func(domain.Tick)
	barHandler  func(domain.Bar)
	rawConsumer func(string)
}

// NewWebSocket creates a WebSocket connector for url. Supervisor options
// control the retry policy.
func NewWebSocket(name, url string, opts ...Option) *WebSocket {
	w := &WebSocket{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
	w.Supervisor = NewSupervisor(name, w.dial, w.closeConn, opts...)
	return w
}

// SetTickHandler registers the direct tick callback. The WebSocket
// connector is gateway-fed and never self-parses, so this handler is
// retained for the Connector contract but does not fire on raw frames.
func (w *WebSocket) SetTickHandler(handler func(domain.Tick)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickHandler = handler
}

// SetBarHandler registers the direct bar callback.
func (w *WebSocket) SetBarHandler(handler func(domain.Bar)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.barHandler = handler
}

// SetRawMessageConsumer registers the consumer for raw text frames.
func (w *WebSocket) SetRawMessageConsumer(consumer func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rawConsumer = consumer
}

func (w *WebSocket) dial() error {
	conn, resp, err := w.dialer.Dial(w.url, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			w.ConnectionLost(err)
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		w.mu.RLock()
		consumer := w.rawConsumer
		w.mu.RUnlock()

		if consumer != nil {
			consumer(string(message))
		}
	}
}

func (w *WebSocket) closeConn() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}

	// Best-effort close handshake; the read loop exits on the closed
	// socket either way.
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return conn.Close()
}
