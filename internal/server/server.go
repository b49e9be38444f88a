// Package server is the HTTP surface of the backend: the overlay socket,
// the control routes and the static overlay assets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/john/orchid/internal/bus"
	"github.com/john/orchid/internal/hub"
	"github.com/john/orchid/internal/layout"
	"github.com/john/orchid/internal/subscription"
)

// Publisher hands events to the bus.
type Publisher interface {
	Publish(ev bus.Event) error
}

// CustomValidator adapts go-playground/validator to echo.Validator.
type CustomValidator struct {
	validator *validator.Validate
}

func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

func (cv *CustomValidator) Validate(i any) error {
	return cv.validator.Struct(i)
}

type broadcastRequest struct {
	Message string `query:"message" validate:"required"`
}

type subscriptionRequest struct {
	Username string `query:"username" validate:"required"`
}

// Server provides the HTTP routes
type Server struct {
	e    *echo.Echo
	addr string
	hub  *hub.Hub
	subs *subscription.Manager
	pub  Publisher
}

// New builds the server. staticDir may be empty to serve no assets.
func New(addr string, h *hub.Hub, subs *subscription.Manager, pub Publisher, staticDir string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{e: e, addr: addr, hub: h, subs: subs, pub: pub}

	e.GET("/ws", s.serveWS)
	e.GET("/broadcast", s.broadcast)
	e.GET("/global_sub", s.globalSub)
	e.GET("/global_unsub", s.globalUnsub)
	e.GET("/global_subs", s.globalSubs)
	e.GET("/layout", s.getLayout)
	e.POST("/layout", s.postLayout)
	e.GET("/stats", s.stats)
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	if staticDir != "" {
		e.Static("/", staticDir)
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.addr)
	if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Shutdown disconnects overlays and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down http server")
	s.hub.Close()
	return s.e.Shutdown(ctx)
}

func (s *Server) serveWS(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Overlays are loaded from OBS browser sources with arbitrary origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", c.RealIP(), "error", err)
		return nil
	}

	slog.Debug("overlay socket opened", "remote", c.RealIP(), "user_agent", c.Request().UserAgent())
	s.hub.Serve(c.Request().Context(), conn)
	return nil
}

func (s *Server) broadcast(c echo.Context) error {
	var req broadcastRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.pub.Publish(bus.Event{Kind: bus.KindRaw, Payload: []byte(req.Message)}); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) globalSub(c echo.Context) error {
	var req subscriptionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.subs.Subscribe(req.Username, subscription.Global); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) globalUnsub(c echo.Context) error {
	var req subscriptionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	s.subs.Unsubscribe(req.Username, subscription.Global)
	return c.NoContent(http.StatusOK)
}

func (s *Server) globalSubs(c echo.Context) error {
	subs := s.subs.ClientSubscriptions(subscription.Global)
	if subs == nil {
		subs = []string{}
	}
	return c.JSON(http.StatusOK, subs)
}

func (s *Server) getLayout(c echo.Context) error {
	items, err := s.hub.Layout(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, layout.State{LayoutItems: items})
}

func (s *Server) postLayout(c echo.Context) error {
	var u layout.Update
	if err := c.Bind(&u); err != nil {
		return err
	}
	if err := layout.Validate(u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ev, err := bus.NewEvent(bus.KindLayout, "", u)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.pub.Publish(ev); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Stats())
}

func bindAndValidate(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	if err := c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				slog.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Debug("request", attrs...)
			return nil
		},
	})
}
