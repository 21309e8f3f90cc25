package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Chat relay server and terminal client",
	Long: `chatctl runs the chat relay and talks to it from a terminal.

Available commands:
  serve      Run the relay server (configured from the environment or .env)
  join       Join the chat from this terminal
  history    Print the stored message log

Use "chatctl [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for client commands (debug, info, warn, error)")
}
