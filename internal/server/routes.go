package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/MoldoAndr/EL8S-Shop/internal/hub"
	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	rateLimiter := RateLimiter(s.cfg.RateLimit)

	s.E.GET("/ws", s.handleWebSocket, rateLimiter)
	s.E.GET("/api/messages", s.handleMessages, rateLimiter)
	s.E.GET("/health", s.handleHealth)
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins}
}

// handleWebSocket upgrades the request and hands the socket to the hub for
// the rest of its life. Accept writes its own error response.
func (s *Server) handleWebSocket(c echo.Context) error {
	ctx := c.Request().Context()
	log := FromContext(ctx)

	ws, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		log.Warn("Failed to upgrade connection to WebSocket", "event", "ws_upgrade_failure", "error", err)
		return nil
	}

	if err := s.Hub.Serve(ctx, ws); err != nil && !errors.Is(err, hub.ErrStopped) {
		log.Warn("WebSocket session ended with error", "event", "ws_session_failure", "error", err)
	}
	return nil
}

// handleMessages returns the whole log, oldest first.
func (s *Server) handleMessages(c echo.Context) error {
	ctx := c.Request().Context()
	msgs, err := s.store.FindAllOrderedByTimestampAscending(ctx)
	if err != nil {
		FromContext(ctx).Error("Failed to fetch messages", "event", "history_fetch_failure", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch messages"})
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		FromContext(ctx).Warn("Store health check failed", "event", "health_check_failure", "error", err)
		return c.String(http.StatusServiceUnavailable, "Service Unavailable")
	}
	return c.String(http.StatusOK, "OK")
}
