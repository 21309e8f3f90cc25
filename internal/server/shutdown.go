package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Shutdown stops accepting requests, closes every live connection with a
// going-away status and then releases the bus and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.Hub.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("hub stop: %w", err))
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus close: %w", err))
		}
	}
	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		slog.Error("Shutdown finished with errors", "event", "server_shutdown", "error", err)
		return err
	}
	slog.Info("Server stopped", "event", "server_shutdown")
	return nil
}
