package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/MoldoAndr/EL8S-Shop/internal/config"
	"github.com/MoldoAndr/EL8S-Shop/internal/retry"
	"github.com/spf13/afero"
)

// Gateway is the append-only message log behind the hub. Implementations
// must be safe for concurrent use.
type Gateway interface {
	// InsertOne stores msg and returns its identifier.
	InsertOne(ctx context.Context, msg chat.Message) (string, error)
	// FindAllOrderedByTimestampAscending returns the whole log, oldest first.
	FindAllOrderedByTimestampAscending(ctx context.Context) ([]chat.Message, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Reconnector is implemented by gateways that can re-establish a lost
// connection without being recreated.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Open builds the gateway selected by cfg.StoreDriver and waits until it is
// reachable, retrying with the configured backoff.
func Open(ctx context.Context, cfg *config.Config) (Gateway, error) {
	retryer := retry.New(cfg.RetryMax, cfg.RetryBase, cfg.RetryCap, retry.WithName("store_connect"))

	switch cfg.StoreDriver {
	case config.StoreSurreal:
		conn := NewConnection(SurrealConfig{
			URL:       cfg.DBUrl,
			Namespace: cfg.DBNs,
			Database:  cfg.DBDb,
			User:      cfg.DBUser,
			Pass:      cfg.DBPass,
		}, retryer)
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		return NewSurrealGateway(conn), nil

	case config.StoreRedis:
		gw, err := NewRedisGateway(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := retryer.Retry(ctx, func() error { return gw.Ping(ctx) }); err != nil {
			gw.Close(ctx)
			return nil, err
		}
		return gw, nil

	case config.StoreFile:
		gw := NewJournalGateway(afero.NewOsFs(), cfg.StoreFile)
		if err := retryer.Retry(ctx, func() error { return gw.Ping(ctx) }); err != nil {
			return nil, err
		}
		return gw, nil

	case config.StoreMemory:
		slog.WarnContext(ctx, "Using the in-memory store, messages are lost on restart", "event", "store_memory")
		return NewMemoryGateway(), nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
