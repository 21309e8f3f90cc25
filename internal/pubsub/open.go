package pubsub

import (
	"context"
	"fmt"

	"github.com/MoldoAndr/EL8S-Shop/internal/config"
)

// Open builds the bus selected by cfg.BusDriver, wrapped for tracing. It
// returns a nil Bus when fan-out is disabled.
func Open(ctx context.Context, cfg *config.Config) (Bus, error) {
	bus, system, err := openBackend(cfg)
	if err != nil || bus == nil {
		return nil, err
	}

	tracer, shutdown, err := SetupTracing(ctx, TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.TracingServiceName,
		ZipkinURL:   cfg.ZipkinURL,
	})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("setup bus tracing: %w", err)
	}

	traced := NewTracingBus(bus, tracer, system)
	traced.shutdown = shutdown
	return traced, nil
}

func openBackend(cfg *config.Config) (Bus, string, error) {
	switch cfg.BusDriver {
	case config.BusNone, "":
		return nil, "", nil
	case config.BusMemory:
		return NewWatermillBridge(), "watermill", nil
	case config.BusRedis:
		bus, err := NewRedisBridge(cfg.RedisURL)
		if err != nil {
			return nil, "", err
		}
		return bus, "redis", nil
	}
	return nil, "", fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
}
