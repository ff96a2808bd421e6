package gateway

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/stock-pulse/pkg/config"
)

// Sessions is the part of the hub a connection talks to.
type Sessions interface {
	Register(client hub.ClientInterface, email string) error
	Unregister(client hub.ClientInterface)
}

type Options struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		WriteWait:      5 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     50 * time.Second,
		MaxMessageSize: 512 * 1024,
	}
}

func OptionsFromConfig(cfg config.GatewayConfig) Options {
	return Options{
		SendBuffer:     cfg.SendBuffer,
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
		MaxMessageSize: cfg.MaxMessageSize,
	}
}

// ClientAdapter owns one websocket. Inbound frames are handled on the read
// pump; outbound frames go through a bounded queue drained by the write pump.
type ClientAdapter struct {
	id       string
	conn     net.Conn
	sessions Sessions
	logger   *zap.Logger
	opts     Options

	mu     sync.Mutex // guards send against close
	send   chan []byte
	closed bool
}

func NewClient(conn net.Conn, sessions Sessions, logger *zap.Logger, opts Options) *ClientAdapter {
	id := uuid.NewString()
	return &ClientAdapter{
		id:       id,
		conn:     conn,
		sessions: sessions,
		logger:   logger.With(zap.String("client", id)),
		opts:     opts,
		send:     make(chan []byte, opts.SendBuffer),
	}
}

func (c *ClientAdapter) Start() {
	metrics.ActiveConnections.Inc()
	c.logger.Debug("Client connected", zap.String("remote", c.conn.RemoteAddr().String()))
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.id }

// Close stops the write pump, which then closes the socket.
func (c *ClientAdapter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	metrics.ActiveConnections.Dec()
}

func (c *ClientAdapter) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *ClientAdapter) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}
	c.SendBytes(b)
}

// SendBytes never blocks. When the queue is full the oldest frame is
// evicted so that a slow reader sees the latest prices.
func (c *ClientAdapter) SendBytes(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- b:
		return
	default:
	}

	select {
	case <-c.send:
		metrics.FramesDropped.Inc()
		c.logger.Debug("Send buffer full, dropped oldest frame")
	default:
	}
	select {
	case c.send <- b:
	default:
		metrics.FramesDropped.Inc()
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.sessions.Unregister(c)
		c.conn.Close()
		c.logger.Debug("Client disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > c.opts.MaxMessageSize {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpText:
			c.handleText(payload)
		}
	}
}

func (c *ClientAdapter) handleText(payload []byte) {
	var req protocol.WSRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, Message: "Invalid JSON"})
		return
	}

	switch req.Type {
	case protocol.TypeRegister:
		// unknown users are answered by the hub
		_ = c.sessions.Register(c, req.Identity())
	default:
		c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, Message: "Unknown message type: " + req.Type})
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				// the read pump sees the closed socket and unregisters
				c.logger.Debug("Write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
