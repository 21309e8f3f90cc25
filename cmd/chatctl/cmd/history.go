package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/spf13/cobra"
)

const historyTimeout = 10 * time.Second

var historyOpts struct {
	server string
	format string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored message log",
	Long: `Fetch the message log from a running relay, oldest first.

Output formats:
  table - Human-readable table (default)
  text  - One line per message, as chatctl join prints them
  json  - The raw message list

Examples:
  chatctl history
  chatctl history --server http://chat.local --format json`,
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), historyTimeout)
	defer cancel()

	msgs, err := fetchHistory(ctx, http.DefaultClient, historyOpts.server)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch historyOpts.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	case "text":
		term := newTerminal(out, shouldColorize(out))
		for _, msg := range msgs {
			term.render(msg)
		}
		return nil
	case "table":
		fmt.Fprintln(out, renderMessagesTable(msgs))
		return nil
	}
	return fmt.Errorf("unknown format %q: use table, text or json", historyOpts.format)
}

// fetchHistory reads GET /api/messages from the relay at baseURL.
func fetchHistory(ctx context.Context, hc *http.Client, baseURL string) ([]chat.Message, error) {
	url := strings.TrimRight(baseURL, "/") + "/api/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return nil, fmt.Errorf("fetch history: server returned %d: %s", resp.StatusCode, body.Error)
		}
		return nil, fmt.Errorf("fetch history: server returned %d", resp.StatusCode)
	}

	var msgs []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

func init() {
	historyCmd.Flags().StringVar(&historyOpts.server, "server", "http://localhost:8080", "base URL of the relay")
	historyCmd.Flags().StringVar(&historyOpts.format, "format", "table", "output format (table, text, json)")
	rootCmd.AddCommand(historyCmd)
}
