package connector

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsTestServer accepts one WebSocket session at a time and sends every
// frame from the frames slice, then holds the session open.
type wsTestServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	frames   []string
	sessions int
	conns    []*websocket.Conn
}

func newWSTestServer(frames ...string) *wsTestServer {
	s := &wsTestServer{frames: frames}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.sessions++
		s.conns = append(s.conns, conn)
		frames := s.frames
		s.mu.Unlock()

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		// Keep the session open until the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return s
}

func (s *wsTestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsTestServer) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *wsTestServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func TestWebSocketForwardsTextFrames(t *testing.T) {
	srv := newWSTestServer(`{"symbol":"AAA","last":1}`, `{"symbol":"BBB","last":2}`)
	defer srv.Close()

	c := NewWebSocket("ws-feed", srv.wsURL())
	defer c.Close()

	var mu sync.Mutex
	var received []string
	c.SetRawMessageConsumer(func(payload string) {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	})

	c.Start()
	waitState(t, c.Supervisor, StateConnected)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d frames, want 2", len(received))
	}
	if received[0] != `{"symbol":"AAA","last":1}` || received[1] != `{"symbol":"BBB","last":2}` {
		t.Errorf("frames = %v", received)
	}
}

func TestWebSocketReconnectsAfterServerDrop(t *testing.T) {
	srv := newWSTestServer()
	defer srv.Close()

	c := NewWebSocket("ws-feed", srv.wsURL(), WithRetryDelay(5*time.Millisecond))
	defer c.Close()

	c.Start()
	waitState(t, c.Supervisor, StateConnected)

	srv.dropAll()

	// The read loop reports the dead session and the supervisor redials.
	deadline := time.Now().Add(time.Second)
	for srv.sessionCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := srv.sessionCount(); got < 2 {
		t.Fatalf("server saw %d sessions, want a reconnect", got)
	}
	waitState(t, c.Supervisor, StateConnected)
}

func TestWebSocketRetriesWhileServerDown(t *testing.T) {
	srv := newWSTestServer()
	url := srv.wsURL()
	srv.Close() // nothing listening

	c := NewWebSocket("ws-feed", url, WithRetryDelay(5*time.Millisecond))
	defer c.Close()

	c.Start()

	deadline := time.Now().Add(time.Second)
	for c.State() != StateBackoff && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if s := c.State(); s != StateBackoff && s != StateConnecting {
		t.Errorf("state = %v, want backoff or a retry in flight", s)
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true with no listener")
	}
}

func TestWebSocketCloseStopsSession(t *testing.T) {
	srv := newWSTestServer()
	defer srv.Close()

	c := NewWebSocket("ws-feed", srv.wsURL())
	c.Start()
	waitState(t, c.Supervisor, StateConnected)

	c.Close()
	if c.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, want %v", c.State(), StateIdle)
	}

	// Closed is terminal even if the old session reports its death late.
	c.ConnectionLost(nil)
	time.Sleep(10 * time.Millisecond)
	if c.State() != StateIdle {
		t.Errorf("state after late ConnectionLost = %v, want %v", c.State(), StateIdle)
	}
}
