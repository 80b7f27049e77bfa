package connector

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRESTPollingForwardsBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"POLL","bid":100.5,"ask":100.6}`))
	}))
	defer srv.Close()

	c := NewRESTPolling("poller", srv.URL, time.Millisecond, nil)

	var mu sync.Mutex
	var received []string
	c.SetRawMessageConsumer(func(payload string) {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	})

	c.Start()
	if !c.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) < 3 {
		t.Fatalf("received %d payloads, want at least 3", len(received))
	}
	for i, p := range received {
		if p != `{"symbol":"POLL","bid":100.5,"ask":100.6}` {
			t.Errorf("payload[%d] = %q", i, p)
		}
	}
}

func TestRESTPollingSkipsNonOKResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRESTPolling("poller", srv.URL, time.Millisecond, nil)

	var forwarded atomic.Int32
	c.SetRawMessageConsumer(func(string) { forwarded.Add(1) })

	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Close()

	if got := forwarded.Load(); got != 0 {
		t.Errorf("forwarded %d payloads from a 503 endpoint, want 0", got)
	}
}

func TestRESTPollingCloseStopsPolling(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewRESTPolling("poller", srv.URL, time.Millisecond, nil)
	c.Start()

	deadline := time.Now().Add(time.Second)
	for polls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	c.Close()
	if c.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}

	settled := polls.Load()
	time.Sleep(30 * time.Millisecond)
	if after := polls.Load(); after != settled {
		t.Errorf("polled %d more times after Close", after-settled)
	}

	// Second Close is a no-op.
	c.Close()
}

func TestRESTPollingCloseIsTerminal(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewRESTPolling("poller", srv.URL, time.Millisecond, nil)
	c.Start()

	deadline := time.Now().Add(time.Second)
	for polls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	c.Close()

	// A closed connector cannot be restarted in place.
	c.Start()
	if c.IsRunning() {
		t.Error("IsRunning() = true after Start on a closed connector")
	}

	settled := polls.Load()
	time.Sleep(30 * time.Millisecond)
	if after := polls.Load(); after != settled {
		t.Errorf("polled %d more times after a post-Close Start", after-settled)
	}
}

func TestRESTPollingCloseBeforeStart(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewRESTPolling("poller", srv.URL, time.Millisecond, nil)
	c.Close()
	c.Start()

	time.Sleep(20 * time.Millisecond)
	if got := polls.Load(); got != 0 {
		t.Errorf("polled %d times after Close-then-Start, want 0", got)
	}
}

func TestRESTPollingWithoutConsumerIsHarmless(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewRESTPolling("poller", srv.URL, time.Millisecond, nil)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Close()
}
