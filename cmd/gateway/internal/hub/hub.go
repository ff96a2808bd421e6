package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

// ErrConnectionClosed is returned by Register for a client that was already
// unregistered. Closed is terminal.
var ErrConnectionClosed = errors.New("connection closed")

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
	Closed() bool
}

// PriceSource answers current-price lookups for snapshots and add notifications.
type PriceSource interface {
	Price(ticker string) (float64, bool)
}

// binding is one directory entry: who the connection belongs to and its
// cached copy of that user's watchlist.
type binding struct {
	email string
	subs  map[string]bool
}

// Hub is the connection directory plus the session controller. A single
// mutex serializes registry mutations with the directory updates they cause,
// so a bound connection never observes a half-applied change. Dispatch takes
// the read lock, which is why every send must be non-blocking.
type Hub struct {
	registry *registry.Registry
	prices   PriceSource
	logger   *zap.Logger

	mu          sync.RWMutex
	clients     map[ClientInterface]*binding
	subscribers map[string]map[ClientInterface]bool // ticker -> bound clients watching it
	userConns   map[string]map[ClientInterface]bool // email -> bound clients
}

func NewHub(reg *registry.Registry, prices PriceSource, logger *zap.Logger) *Hub {
	return &Hub{
		registry:    reg,
		prices:      prices,
		logger:      logger,
		clients:     make(map[ClientInterface]*binding),
		subscribers: make(map[string]map[ClientInterface]bool),
		userConns:   make(map[string]map[ClientInterface]bool),
	}
}

// Supported returns the ticker universe.
func (h *Hub) Supported() []string {
	return h.registry.Supported()
}

// Login validates the key and returns the user's watchlist, creating it on
// first sight. It never touches the directory: an unseen user has no bound
// connections.
func (h *Hub) Login(email string) ([]string, error) {
	if err := registry.ValidateIdentity(email); err != nil {
		return nil, err
	}
	return h.registry.Login(email), nil
}

func (h *Hub) Subscribe(email, ticker string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, changed, err := h.registry.Subscribe(email, ticker)
	if err != nil {
		return nil, err
	}
	if !changed {
		return subs, nil
	}

	price, _ := h.prices.Price(ticker)
	msg := protocol.SubscriptionAdded{Type: protocol.TypeSubscriptionAdded, Ticker: ticker, Price: price}
	for c := range h.userConns[email] {
		h.clients[c].subs[ticker] = true
		h.index(ticker, c)
		h.send(c, protocol.TypeSubscriptionAdded, msg)
	}

	h.logger.Debug("Subscribed", zap.String("email", email), zap.String("ticker", ticker),
		zap.Int("connections", len(h.userConns[email])))
	return subs, nil
}

func (h *Hub) Unsubscribe(email, ticker string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, changed, err := h.registry.Unsubscribe(email, ticker)
	if err != nil {
		return nil, err
	}
	if !changed {
		return subs, nil
	}

	msg := protocol.SubscriptionRemoved{Type: protocol.TypeSubscriptionRemoved, Ticker: ticker}
	for c := range h.userConns[email] {
		delete(h.clients[c].subs, ticker)
		h.unindex(ticker, c)
		h.send(c, protocol.TypeSubscriptionRemoved, msg)
	}

	h.logger.Debug("Unsubscribed", zap.String("email", email), zap.String("ticker", ticker),
		zap.Int("connections", len(h.userConns[email])))
	return subs, nil
}

// Register binds a connection to a user and sends the initial snapshot.
// Unknown users get an error frame and the connection stays unbound.
// Registering an already bound connection rebinds it; registering it with an
// unknown user unbinds it.
func (h *Hub) Register(client ClientInterface, email string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.Closed() {
		return ErrConnectionClosed
	}

	subs, ok := h.registry.Subscriptions(email)
	if !ok {
		h.logger.Warn("Register for unknown user", zap.String("client", client.ID()), zap.String("email", email))
		if _, bound := h.clients[client]; bound {
			h.unbind(client)
		}
		h.sendError(client, "User not found. Please login first.")
		return registry.ErrUnknownUser
	}

	if _, bound := h.clients[client]; bound {
		h.unbind(client)
	}

	b := &binding{email: email, subs: make(map[string]bool, len(subs))}
	prices := make(map[string]float64, len(subs))
	for _, t := range subs {
		b.subs[t] = true
		h.index(t, client)
		if p, ok := h.prices.Price(t); ok {
			prices[t] = p
		}
	}
	h.clients[client] = b
	if h.userConns[email] == nil {
		h.userConns[email] = make(map[ClientInterface]bool)
	}
	h.userConns[email][client] = true
	metrics.BoundConnections.Inc()

	h.send(client, protocol.TypeInitialPrices, protocol.InitialPrices{
		Type:          protocol.TypeInitialPrices,
		Prices:        prices,
		Subscriptions: subs,
	})

	h.logger.Info("Client registered", zap.String("client", client.ID()), zap.String("email", email),
		zap.Strings("subscriptions", subs))
	return nil
}

// Unregister removes the connection from the directory and closes it. Once
// it returns no dispatch can reach the client and Register rejects it. Safe
// to call more than once.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, bound := h.clients[client]; bound {
		h.unbind(client)
	}
	// closed under the lock so a concurrent Register observes it
	client.Close()
}

// OnTick fans a generator update out to every bound client watching the ticker.
func (h *Hub) OnTick(u models.StockUpdate) {
	payload, err := json.Marshal(protocol.PriceUpdate{
		Type:      protocol.TypePriceUpdate,
		Ticker:    u.Symbol,
		Price:     u.Price,
		Timestamp: time.UnixMicro(u.Timestamp).UTC().Format(time.RFC3339Nano),
		Seq:       u.SeqID,
	})
	if err != nil {
		h.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}
	h.Broadcast(u.Symbol, payload)
}

func (h *Hub) Broadcast(symbol string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.subscribers[symbol]; ok {
		for client := range clients {
			client.SendBytes(payload)
		}
		metrics.FramesSent.WithLabelValues(protocol.TypePriceUpdate).Add(float64(len(clients)))
	}
}

// BoundConnections returns the number of directory entries.
func (h *Hub) BoundConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// unbind must be called with mu held.
func (h *Hub) unbind(client ClientInterface) {
	b := h.clients[client]
	for t := range b.subs {
		h.unindex(t, client)
	}
	if conns := h.userConns[b.email]; conns != nil {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.userConns, b.email)
		}
	}
	delete(h.clients, client)
	metrics.BoundConnections.Dec()

	h.logger.Info("Client unbound", zap.String("client", client.ID()), zap.String("email", b.email))
}

func (h *Hub) index(ticker string, c ClientInterface) {
	if h.subscribers[ticker] == nil {
		h.subscribers[ticker] = make(map[ClientInterface]bool)
	}
	h.subscribers[ticker][c] = true
}

func (h *Hub) unindex(ticker string, c ClientInterface) {
	if clients := h.subscribers[ticker]; clients != nil {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subscribers, ticker)
		}
	}
}

func (h *Hub) send(c ClientInterface, msgType string, v interface{}) {
	c.SendJSON(v)
	metrics.FramesSent.WithLabelValues(msgType).Inc()
}

func (h *Hub) sendError(c ClientInterface, msg string) {
	h.send(c, protocol.TypeError, protocol.WSResponse{Type: protocol.TypeError, Message: msg})
}
