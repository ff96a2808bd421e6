package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/api"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/generator"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/persister"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/testutils"
)

var tickers = []string{"GOOG", "TSLA", "AMZN", "META", "NVDA"}

type env struct {
	server *httptest.Server
	gen    *generator.PriceGenerator
	hub    *hub.Hub
	reg    *registry.Registry
}

func startServer(t *testing.T) *env {
	t.Helper()
	logger := zap.NewNop()

	gen := generator.NewPriceGenerator(logger, tickers, generator.Params{
		Interval: time.Second, FloorPrice: 10, MaxDelta: 0.05, HistorySize: 60,
		BasePriceMin: 100, BasePriceMax: 1100,
	}, &testutils.MockRand{ValFloat: 0.75}, &testutils.MockClock{CurrentTime: time.Unix(1700000000, 0)})

	reg := registry.New(tickers, logger)
	wsHub := hub.NewHub(reg, gen, logger)
	gen.AddHandler(wsHub)

	opts := gateway.DefaultOptions()
	opts.MaxMessageSize = 4 * 1024
	srv := api.NewServer(wsHub, gen, func(conn net.Conn) {
		gateway.NewClient(conn, wsHub, logger, opts).Start()
	}, logger)

	server := httptest.NewServer(srv.Echo(""))
	t.Cleanup(server.Close)
	return &env{server: server, gen: gen, hub: wsHub, reg: reg}
}

func (e *env) post(t *testing.T, path string, body interface{}) int {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	t.Cleanup(func() { wsConn.Close() })
	return wsConn
}

func readFrame(t *testing.T, conn *websocket.Conn) testutils.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var f testutils.Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("Frame is not JSON: %s", msg)
	}
	return f
}

func register(t *testing.T, conn *websocket.Conn, email string) testutils.Frame {
	t.Helper()
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"register","email":"`+email+`"}`))
	return readFrame(t, conn)
}

func TestEndToEnd_FullFlow(t *testing.T) {
	e := startServer(t)

	if code := e.post(t, "/api/login", map[string]string{"email": "a@x.com"}); code != http.StatusOK {
		t.Fatalf("login returned %d", code)
	}

	wsConn := connectWS(t, e.server.URL)
	initial := register(t, wsConn, "a@x.com")
	if initial.Type != "initial_prices" {
		t.Fatalf("Expected initial_prices, got %+v", initial)
	}
	// the snapshot only carries prices for subscribed tickers
	if len(initial.Prices) != 0 || len(initial.Subscriptions) != 0 {
		t.Errorf("Expected an empty snapshot, got %+v", initial)
	}

	if code := e.post(t, "/api/subscribe", map[string]string{"email": "a@x.com", "ticker": "GOOG"}); code != http.StatusOK {
		t.Fatalf("subscribe returned %d", code)
	}
	added := readFrame(t, wsConn)
	if added.Type != "subscription_added" || added.Ticker != "GOOG" {
		t.Fatalf("Expected subscription_added GOOG, got %+v", added)
	}
	if current, _ := e.gen.Price("GOOG"); added.Price != current {
		t.Errorf("subscription_added price %v, want current %v", added.Price, current)
	}

	e.gen.Tick()
	update := readFrame(t, wsConn)
	if update.Type != "price_update" || update.Ticker != "GOOG" {
		t.Fatalf("Expected price_update GOOG, got %+v", update)
	}
	want, _ := e.gen.Price("GOOG")
	if update.Price != want || update.Seq != 1 {
		t.Errorf("price_update = %+v, want price %v seq 1", update, want)
	}
	if _, err := time.Parse(time.RFC3339Nano, update.Timestamp); err != nil {
		t.Errorf("Timestamp %q is not ISO-8601: %v", update.Timestamp, err)
	}

	if code := e.post(t, "/api/unsubscribe", map[string]string{"email": "a@x.com", "ticker": "GOOG"}); code != http.StatusOK {
		t.Fatalf("unsubscribe returned %d", code)
	}
	removed := readFrame(t, wsConn)
	if removed.Type != "subscription_removed" || removed.Ticker != "GOOG" {
		t.Fatalf("Expected subscription_removed GOOG, got %+v", removed)
	}

	// no subscriptions left, so the next tick must not arrive
	e.gen.Tick()
	wsConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, msg, err := wsConn.ReadMessage(); err == nil {
		t.Errorf("Unexpected frame after unsubscribe: %s", msg)
	}
}

func TestEndToEnd_UnknownUser(t *testing.T) {
	e := startServer(t)
	wsConn := connectWS(t, e.server.URL)

	f := register(t, wsConn, "ghost@x.com")
	if f.Type != "error" || f.Message != "User not found. Please login first." {
		t.Errorf("Expected not-found error, got %+v", f)
	}

	// the connection stays usable after login
	e.post(t, "/api/login", map[string]string{"email": "ghost@x.com"})
	if f := register(t, wsConn, "ghost@x.com"); f.Type != "initial_prices" {
		t.Errorf("Expected initial_prices after login, got %+v", f)
	}
}

func TestEndToEnd_InvalidJSON(t *testing.T) {
	e := startServer(t)
	wsConn := connectWS(t, e.server.URL)

	wsConn.WriteMessage(websocket.TextMessage, []byte(`{ "type": "regi`))

	f := readFrame(t, wsConn)
	if f.Type != "error" {
		t.Errorf("Expected error frame for bad JSON, got %+v", f)
	}
}

func TestEndToEnd_MultiTab(t *testing.T) {
	e := startServer(t)
	e.post(t, "/api/login", map[string]string{"email": "a@x.com"})

	tabs := []*websocket.Conn{connectWS(t, e.server.URL), connectWS(t, e.server.URL)}
	for _, c := range tabs {
		if f := register(t, c, "a@x.com"); f.Type != "initial_prices" {
			t.Fatalf("Expected initial_prices, got %+v", f)
		}
	}

	e.post(t, "/api/subscribe", map[string]string{"email": "a@x.com", "ticker": "NVDA"})
	for i, c := range tabs {
		if f := readFrame(t, c); f.Type != "subscription_added" || f.Ticker != "NVDA" {
			t.Errorf("tab %d: expected subscription_added NVDA, got %+v", i, f)
		}
	}

	e.gen.Tick()
	for i, c := range tabs {
		if f := readFrame(t, c); f.Type != "price_update" || f.Ticker != "NVDA" {
			t.Errorf("tab %d: expected price_update NVDA, got %+v", i, f)
		}
	}

	// closing one tab leaves the other bound
	tabs[0].Close()
	testutils.Eventually(t, 2*time.Second, func() bool { return e.hub.BoundConnections() == 1 }, "closed tab unbound")

	e.gen.Tick()
	if f := readFrame(t, tabs[1]); f.Type != "price_update" {
		t.Errorf("Remaining tab should still stream, got %+v", f)
	}
}

func TestEndToEnd_MaxMessageSize(t *testing.T) {
	e := startServer(t)
	wsConn := connectWS(t, e.server.URL)

	hugeMsg := `{"type":"register","email":"` + strings.Repeat("a", 8*1024) + `@x.com"}`

	err := wsConn.WriteMessage(websocket.TextMessage, []byte(hugeMsg))
	// Depending on timing, write might succeed, but Read should fail (Disconnect)
	if err == nil {
		wsConn.SetReadDeadline(time.Now().Add(1 * time.Second))
		_, _, err := wsConn.ReadMessage()
		if err == nil {
			t.Error("Server should have closed connection for huge message, but it stayed open")
		}
	}
}

func TestEndToEnd_PersistsAcrossRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := repository.NewRedisStore(rdb)
	defer store.Close()

	e := startServer(t)
	pers := persister.New(store, e.reg.Snapshot, 20*time.Millisecond, zap.NewNop())
	e.reg.OnChange(pers.MarkDirty)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pers.Run(ctx)
	}()

	e.post(t, "/api/login", map[string]string{"email": "a@x.com"})
	e.post(t, "/api/subscribe", map[string]string{"email": "a@x.com", "ticker": "TSLA"})
	e.post(t, "/api/subscribe", map[string]string{"email": "a@x.com", "ticker": "META"})
	cancel()
	<-done

	// a fresh registry sees the same watchlist
	fresh := registry.New(tickers, zap.NewNop())
	records, err := store.LoadUsers(context.Background())
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}
	fresh.Restore(records)

	subs, ok := fresh.Subscriptions("a@x.com")
	if !ok || len(subs) != 2 {
		t.Fatalf("Expected 2 restored subscriptions, got %v (found=%v)", subs, ok)
	}
}
