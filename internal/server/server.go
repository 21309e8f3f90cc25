// Package server exposes the hub and the message log over HTTP.
package server

import (
	"github.com/MoldoAndr/EL8S-Shop/internal/config"
	"github.com/MoldoAndr/EL8S-Shop/internal/database"
	"github.com/MoldoAndr/EL8S-Shop/internal/hub"
	"github.com/MoldoAndr/EL8S-Shop/internal/pubsub"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	E   *echo.Echo
	Hub *hub.Hub

	cfg   *config.Config
	store database.Gateway
	bus   pubsub.Bus
}

// New creates a Server relaying through a hub backed by store. bus may be nil.
// Extra hub options are applied after the ones derived from cfg.
func New(cfg *config.Config, store database.Gateway, bus pubsub.Bus, opts ...hub.Option) *Server {
	hubOpts := []hub.Option{hub.WithPingInterval(cfg.PingInterval)}
	if bus != nil {
		hubOpts = append(hubOpts, hub.WithBus(bus))
	}
	hubOpts = append(hubOpts, opts...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(Logger)
	e.Use(requestLogger())
	setupErrorHandling(e)

	s := &Server{
		E:     e,
		Hub:   hub.New(store, hubOpts...),
		cfg:   cfg,
		store: store,
		bus:   bus,
	}
	s.RegisterRoutes()
	return s
}
