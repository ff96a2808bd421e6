// Package api exposes the control plane over HTTP and upgrades /ws to the
// price stream.
package api

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/generator"
	"github.com/shubham-shewale/stock-pulse/cmd/gateway/internal/registry"
)

// Controller is the session-aware registry front the handlers drive.
type Controller interface {
	Login(email string) ([]string, error)
	Subscribe(email, ticker string) ([]string, error)
	Unsubscribe(email, ticker string) ([]string, error)
	Supported() []string
}

type HistorySource interface {
	History(ticker string) ([]generator.Sample, bool)
}

// ConnectFunc takes ownership of an upgraded websocket.
type ConnectFunc func(conn net.Conn)

type Server struct {
	controller Controller
	history    HistorySource
	connect    ConnectFunc
	logger     *zap.Logger
	started    time.Time
}

func NewServer(controller Controller, history HistorySource, connect ConnectFunc, logger *zap.Logger) *Server {
	return &Server{
		controller: controller,
		history:    history,
		connect:    connect,
		logger:     logger,
		started:    time.Now(),
	}
}

// Echo builds the router. publicDir, when set, is served at /.
func (s *Server) Echo(publicDir string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/health", s.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", s.Upgrade)

	g := e.Group("/api")
	g.POST("/login", s.Login)
	g.POST("/subscribe", s.Subscribe)
	g.POST("/unsubscribe", s.Unsubscribe)
	g.GET("/supported-stocks", s.SupportedStocks)
	g.GET("/history/:ticker", s.History)

	if publicDir != "" {
		e.Static("/", publicDir)
	}
	return e
}

type loginRequest struct {
	Email string `json:"email"`
}

type tickerRequest struct {
	Email  string `json:"email"`
	Ticker string `json:"ticker"`
}

type errorResponse struct {
	Error     string   `json:"error"`
	Supported []string `json:"supported,omitempty"`
}

type subscriptionsResponse struct {
	Success       bool     `json:"success"`
	Email         string   `json:"email,omitempty"`
	Subscriptions []string `json:"subscriptions"`
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

func (s *Server) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}

	subs, err := s.controller.Login(req.Email)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, subscriptionsResponse{Success: true, Email: req.Email, Subscriptions: subs})
}

func (s *Server) Subscribe(c echo.Context) error {
	var req tickerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}
	if req.Email == "" || req.Ticker == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Email and ticker are required"})
	}

	subs, err := s.controller.Subscribe(req.Email, req.Ticker)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, subscriptionsResponse{Success: true, Subscriptions: subs})
}

func (s *Server) Unsubscribe(c echo.Context) error {
	var req tickerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}

	subs, err := s.controller.Unsubscribe(req.Email, req.Ticker)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, subscriptionsResponse{Success: true, Subscriptions: subs})
}

func (s *Server) SupportedStocks(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"stocks": s.controller.Supported()})
}

func (s *Server) History(c echo.Context) error {
	ticker := c.Param("ticker")
	samples, ok := s.history.History(ticker)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Stock not supported", Supported: s.controller.Supported()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ticker": ticker, "history": samples})
}

// Upgrade hands the hijacked connection to the gateway.
func (s *Server) Upgrade(c echo.Context) error {
	conn, _, _, err := ws.UpgradeHTTP(c.Request(), c.Response())
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return nil
	}
	s.connect(conn)
	return nil
}

func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, registry.ErrInvalidIdentity):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Valid email is required"})
	case errors.Is(err, registry.ErrUnsupportedInstrument):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Stock not supported", Supported: s.controller.Supported()})
	case errors.Is(err, registry.ErrUnknownUser):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "User not found. Please login first."})
	default:
		s.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal error"})
	}
}
