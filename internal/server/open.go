package server

import (
	"context"
	"fmt"

	"github.com/MoldoAndr/EL8S-Shop/internal/config"
	"github.com/MoldoAndr/EL8S-Shop/internal/database"
	"github.com/MoldoAndr/EL8S-Shop/internal/pubsub"
)

// Open connects the configured store and bus and builds a Server around
// them. A store that stays unreachable through the retry budget is fatal.
func Open(ctx context.Context, cfg *config.Config) (*Server, error) {
	store, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	bus, err := pubsub.Open(ctx, cfg)
	if err != nil {
		store.Close(ctx)
		return nil, fmt.Errorf("open %s bus: %w", cfg.BusDriver, err)
	}

	return New(cfg, store, bus), nil
}
