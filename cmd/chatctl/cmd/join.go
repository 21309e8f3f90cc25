package cmd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/MoldoAndr/EL8S-Shop/internal/client"
	"github.com/MoldoAndr/EL8S-Shop/internal/logging"
	"github.com/spf13/cobra"
)

var joinOpts struct {
	endpoints     []string
	username      string
	maxRetries    int
	backoffBase   time.Duration
	backoffFactor float64
	backoffCap    time.Duration
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the chat from this terminal",
	Long: `Join the chat: every line typed is sent as a message, history and live
messages are printed once each and connection status changes are shown.

Lines starting with a slash are commands:
  /quit        leave the chat
  /reconnect   start over after the client gave up reconnecting

Examples:
  chatctl join --username alice
  chatctl join --username alice --endpoint ws://chat.local/ws --endpoint ws://localhost:8080/ws`,
	RunE: runJoin,
}

func runJoin(cmd *cobra.Command, args []string) error {
	slog.SetDefault(logging.Setup(cmd.ErrOrStderr(), "text", logLevel))

	m, err := client.New(client.Config{
		Endpoints:     joinOpts.endpoints,
		Username:      joinOpts.username,
		MaxRetries:    joinOpts.maxRetries,
		BackoffBase:   joinOpts.backoffBase,
		BackoffFactor: joinOpts.backoffFactor,
		BackoffCap:    joinOpts.backoffCap,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	s := &session{
		manager:  m,
		term:     newTerminal(out, shouldColorize(out)),
		username: joinOpts.username,
		now:      time.Now,
	}

	m.Connect()
	defer m.Disconnect()
	return s.run(ctx, scanLines(cmd.InOrStdin()))
}

// session ties a manager to a terminal.
type session struct {
	manager  *client.Manager
	term     *terminal
	username string
	now      func() time.Time
}

// run renders everything the manager produces and sends typed lines until
// ctx ends, input ends or the user quits.
func (s *session) run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case status := <-s.manager.StatusChanges():
			s.term.status(status)
		case history := <-s.manager.History():
			s.term.history(history)
		case msg := <-s.manager.Messages():
			s.term.render(msg)
		case line, ok := <-lines:
			if !ok || s.handleLine(line) {
				return nil
			}
		}
	}
}

// handleLine reports whether the user asked to quit.
func (s *session) handleLine(line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/reconnect":
		s.manager.Connect()
		return false
	}

	id, err := s.manager.SendMessage(s.username, line)
	if err != nil {
		// The manager already reported ErrNotConnected on its message channel.
		if !errors.Is(err, client.ErrNotConnected) {
			s.term.render(chat.Message{Type: chat.TypeError, Message: err.Error(), Timestamp: s.now()})
		}
		return false
	}

	s.term.render(chat.Message{
		ID:        id,
		Type:      chat.TypeChat,
		Username:  s.username,
		Message:   line,
		Timestamp: s.now(),
	})
	return false
}

func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func init() {
	f := joinCmd.Flags()
	f.StringArrayVar(&joinOpts.endpoints, "endpoint", []string{"ws://localhost:8080/ws"}, "websocket endpoint, repeat to add failover candidates")
	f.StringVarP(&joinOpts.username, "username", "u", "", "name shown to other users (printable ASCII)")
	f.IntVar(&joinOpts.maxRetries, "max-retries", client.DefaultMaxRetries, "reconnection attempts before giving up")
	f.DurationVar(&joinOpts.backoffBase, "backoff-base", client.DefaultBackoffBase, "first reconnection delay")
	f.Float64Var(&joinOpts.backoffFactor, "backoff-factor", client.DefaultBackoffFactor, "growth factor between reconnection delays")
	f.DurationVar(&joinOpts.backoffCap, "backoff-cap", client.DefaultBackoffCap, "longest reconnection delay")
	joinCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(joinCmd)
}
