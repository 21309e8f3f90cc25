package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MoldoAndr/EL8S-Shop/internal/config"
	"github.com/MoldoAndr/EL8S-Shop/internal/logging"
	"github.com/MoldoAndr/EL8S-Shop/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat relay server",
	Long: `Run the chat relay: the websocket hub on /ws, the message log on
/api/messages and a store health check on /health.

Configuration comes from the environment, optionally loaded from a .env file:
  PORT, STORE_DRIVER (surreal|redis|file|memory), SURREAL_URL, SURREAL_NS,
  SURREAL_DB, SURREAL_USER, SURREAL_PASS, REDIS_URL, STORE_FILE,
  BUS_DRIVER (none|memory|redis), STORE_PING_INTERVAL, STORE_RETRY_MAX,
  STORE_RETRY_BASE, STORE_RETRY_CAP, RATE_LIMIT, ALLOWED_ORIGINS,
  TRACING_ENABLED, TRACING_SERVICE_NAME, ZIPKIN_URL, LOG_FORMAT, LOG_LEVEL

Examples:
  STORE_DRIVER=memory chatctl serve
  STORE_DRIVER=redis REDIS_URL=redis://localhost:6379/0 BUS_DRIVER=redis chatctl serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		slog.Error("Invalid configuration", "event", "config_invalid", "error", err)
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := server.Open(ctx, cfg)
	if err != nil {
		slog.Error("Failed to start server", "event", "server_start_failure", "error", err)
		return err
	}
	return s.Run(ctx)
}

// loadServeConfig reads .env and the environment, then sets up logging, so
// LOG_FORMAT and LOG_LEVEL from .env apply. The logger is installed even when
// the configuration is invalid.
func loadServeConfig() (*config.Config, error) {
	cfg, err := config.New()
	logging.New()
	return cfg, err
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
