package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Run starts the hub and the HTTP listener, then blocks until ctx is done or
// the listener fails, and shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Hub.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.E.Start(s.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.InfoContext(ctx, "Chat relay started", "event", "server_start",
		"addr", s.cfg.Addr(),
		"ws_endpoint", "/ws",
		"history_endpoint", "/api/messages",
		"store_driver", s.cfg.StoreDriver,
		"bus_driver", s.cfg.BusDriver,
	)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received", "event", "server_shutdown_signal")
	case runErr = <-errCh:
		slog.Error("HTTP server failed", "event", "server_failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}
