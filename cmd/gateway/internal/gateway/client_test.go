package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/protocol"
)

type fakeSessions struct {
	mu           sync.Mutex
	registered   []string
	unregistered int
	done         chan struct{}
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{done: make(chan struct{}, 1)}
}

func (f *fakeSessions) Register(c hub.ClientInterface, email string) error {
	f.mu.Lock()
	f.registered = append(f.registered, email)
	f.mu.Unlock()
	c.SendJSON(protocol.InitialPrices{Type: protocol.TypeInitialPrices, Prices: map[string]float64{}, Subscriptions: []string{}})
	return nil
}

func (f *fakeSessions) Unregister(c hub.ClientInterface) {
	f.mu.Lock()
	f.unregistered++
	f.mu.Unlock()
	c.Close()
	select {
	case f.done <- struct{}{}:
	default:
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.SendBuffer = 2
	opts.PongWait = 2 * time.Second
	return opts
}

func TestSendBytes_DropsOldest(t *testing.T) {
	server, peer := net.Pipe()
	defer server.Close()
	defer peer.Close()

	c := NewClient(server, newFakeSessions(), zap.NewNop(), testOptions())

	c.SendBytes([]byte("1"))
	c.SendBytes([]byte("2"))
	c.SendBytes([]byte("3"))

	if len(c.send) != 2 {
		t.Fatalf("Expected queue length 2, got %d", len(c.send))
	}
	if got := string(<-c.send); got != "2" {
		t.Errorf("Oldest frame should have been evicted, head is %q", got)
	}
	if got := string(<-c.send); got != "3" {
		t.Errorf("Expected newest frame last, got %q", got)
	}
}

func TestClose_Idempotent(t *testing.T) {
	server, peer := net.Pipe()
	defer server.Close()
	defer peer.Close()

	c := NewClient(server, newFakeSessions(), zap.NewNop(), testOptions())
	c.Close()
	c.Close()

	// must not panic on a closed queue
	c.SendBytes([]byte("late"))
	c.SendJSON(map[string]string{"type": "late"})
}

func TestClient_RegisterRoundTrip(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	sessions := newFakeSessions()
	c := NewClient(server, sessions, zap.NewNop(), testOptions())
	c.Start()

	peer.SetDeadline(time.Now().Add(2 * time.Second))
	if err := wsutil.WriteClientText(peer, []byte(`{"type":"register","email":"a@x.com"}`)); err != nil {
		t.Fatalf("WriteClientText failed: %v", err)
	}

	msg, err := wsutil.ReadServerText(peer)
	if err != nil {
		t.Fatalf("ReadServerText failed: %v", err)
	}
	var resp protocol.InitialPrices
	if err := json.Unmarshal(msg, &resp); err != nil || resp.Type != protocol.TypeInitialPrices {
		t.Fatalf("Expected initial_prices, got %s (%v)", msg, err)
	}

	sessions.mu.Lock()
	if len(sessions.registered) != 1 || sessions.registered[0] != "a@x.com" {
		t.Errorf("Expected register for a@x.com, got %v", sessions.registered)
	}
	sessions.mu.Unlock()

	peer.Close()
	select {
	case <-sessions.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Closing the peer should unregister the client")
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	c := NewClient(server, newFakeSessions(), zap.NewNop(), testOptions())
	c.Start()

	peer.SetDeadline(time.Now().Add(2 * time.Second))
	wsutil.WriteClientText(peer, []byte(`{"type": "regis`))

	msg, err := wsutil.ReadServerText(peer)
	if err != nil {
		t.Fatalf("ReadServerText failed: %v", err)
	}
	var resp protocol.WSResponse
	json.Unmarshal(msg, &resp)
	if resp.Type != protocol.TypeError || resp.Message != "Invalid JSON" {
		t.Errorf("Expected Invalid JSON error, got %s", msg)
	}
}

func TestClient_UserKeyAlias(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	sessions := newFakeSessions()
	c := NewClient(server, sessions, zap.NewNop(), testOptions())
	c.Start()

	peer.SetDeadline(time.Now().Add(2 * time.Second))
	wsutil.WriteClientText(peer, []byte(`{"type":"register","userKey":"b@x.com"}`))
	if _, err := wsutil.ReadServerText(peer); err != nil {
		t.Fatalf("ReadServerText failed: %v", err)
	}

	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if len(sessions.registered) != 1 || sessions.registered[0] != "b@x.com" {
		t.Errorf("userKey alias not honoured, got %v", sessions.registered)
	}
}

func TestClient_CloseFrameUnregisters(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	sessions := newFakeSessions()
	c := NewClient(server, sessions, zap.NewNop(), testOptions())
	c.Start()

	peer.SetDeadline(time.Now().Add(2 * time.Second))
	wsutil.WriteClientMessage(peer, ws.OpClose, nil)

	select {
	case <-sessions.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close frame should unregister the client")
	}
}

// brokenWriteConn fails every write; reads go to the wrapped conn.
type brokenWriteConn struct {
	net.Conn
}

func (brokenWriteConn) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestClient_WriteFailureUnregisters(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	sessions := newFakeSessions()
	c := NewClient(brokenWriteConn{Conn: server}, sessions, zap.NewNop(), testOptions())
	c.Start()

	// the peer never writes, so only the failed write can end the read pump
	c.SendBytes([]byte(`{"type":"price_update"}`))

	select {
	case <-sessions.done:
	case <-time.After(2 * time.Second):
		t.Fatal("A failed write should unregister the client")
	}

	sessions.mu.Lock()
	if sessions.unregistered != 1 {
		t.Errorf("Expected exactly one unregister, got %d", sessions.unregistered)
	}
	sessions.mu.Unlock()

	if !c.Closed() {
		t.Error("Client should be closed after unregister")
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.SendBytes([]byte("late"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendBytes blocked on a failed connection")
	}
	if len(c.send) != 0 {
		t.Errorf("Frames queued after close: %d", len(c.send))
	}
}
