// Package client maintains one logical connection to the chat hub: it retries
// with backoff and endpoint failover, announces the user, routes inbound
// frames and suppresses echoes of its own messages.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/MoldoAndr/EL8S-Shop/internal/dedup"
	"github.com/MoldoAndr/EL8S-Shop/internal/retry"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Status is the observable connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

const (
	// ConnectedText is the local notice emitted when a connection opens.
	ConnectedText        = "Connected to chat server"
	// NotConnectedText is the local error emitted by SendMessage while offline.
	NotConnectedText     = "Cannot send message: not connected to chat server"
	// RetriesExhaustedText is the local error emitted on entering StatusError.
	RetriesExhaustedText = "Failed to connect after multiple attempts. Please check your network connection and try again later."

	writeTimeout = 5 * time.Second
	readLimit    = 16 << 20
)

var (
	// ErrNotConnected is returned by SendMessage outside StatusConnected.
	ErrNotConnected     = errors.New("not connected to chat server")
	// ErrRetriesExhausted is reported by Err once the manager gave up.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Manager owns the client side of a hub connection. Its methods are safe for
// concurrent use.
type Manager struct {
	cfg     Config
	backoff *retry.Retryer
	pending *dedup.Filter
	log     *slog.Logger
	now     func() time.Time

	messages chan chat.Message
	history  chan []chat.Message
	statuses chan Status

	mu       sync.Mutex
	status   Status
	attempts int
	cursor   int
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces time.Now for local message timestamps and the pending
// ledger.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New validates cfg and returns a disconnected Manager.
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		backoff:  cfg.backoff(),
		log:      slog.Default(),
		now:      time.Now,
		messages: make(chan chat.Message, cfg.BufferSize),
		history:  make(chan []chat.Message, 4),
		statuses: make(chan Status, 64),
		status:   StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "client", "username", cfg.Username)
	m.pending = dedup.New(dedup.WithWindow(cfg.PendingWindow), dedup.WithClock(m.now))
	return m, nil
}

// Messages carries live frames and local notices.
func (m *Manager) Messages() <-chan chat.Message { return m.messages }

// History carries each history snapshot received after (re)connecting.
func (m *Manager) History() <-chan []chat.Message { return m.history }

// StatusChanges carries status transitions. Transitions are dropped rather
// than block when nobody reads; Status always has the current value.
func (m *Manager) StatusChanges() <-chan Status { return m.statuses }

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Err returns the failure that put the manager in StatusError, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect starts the connection loop with a fresh attempt budget. It returns
// immediately; progress is reported through Status. Calling Connect while a
// loop is running does nothing.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		select {
		case <-m.done:
		default:
			return
		}
	}

	m.attempts = 0
	m.lastErr = nil
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Disconnect closes the socket cleanly, stops reconnecting, clears the
// pending ledger and waits for the loop to exit. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn, cancel, done := m.conn, m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			m.log.Debug("Close handshake did not complete", "event", "client_close", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	m.pending.Clear()
	m.mu.Lock()
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()
}

// SendMessage sends a chat message and returns its id so the caller can
// correlate an optimistic echo. Outside StatusConnected it emits a local
// error, starts reconnecting and returns ErrNotConnected.
func (m *Manager) SendMessage(username, body string) (string, error) {
	m.mu.Lock()
	conn, status := m.conn, m.status
	m.mu.Unlock()

	if status != StatusConnected || conn == nil {
		m.log.Warn("Cannot send message while not connected", "event", "client_send_offline", "status", status)
		m.emit(m.localMessage(chat.TypeError, NotConnectedText))
		if status != StatusConnecting {
			m.Connect()
		}
		return "", ErrNotConnected
	}

	id := chat.NewID()
	m.pending.Record(id)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	frame := chat.Message{ID: id, Type: chat.TypeChat, Username: username, Message: body}
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		m.pending.Forget(id)
		return "", fmt.Errorf("send chat message: %w", err)
	}
	return id, nil
}

// run dials until a connection opens, serves it until it closes, and repeats
// until ctx ends or the retries are exhausted.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		endpoint := m.beginAttempt()

		conn, err := m.dial(ctx, endpoint)
		if err == nil {
			err = m.serve(ctx, done, conn)
		}
		if ctx.Err() != nil {
			return
		}

		delay, ok := m.scheduleRetry(done, endpoint, err)
		if !ok {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) beginAttempt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatusLocked(StatusConnecting)
	endpoint := m.cfg.Endpoints[m.cursor]
	m.log.Info("Connecting to chat server", "event", "client_connecting",
		"endpoint", endpoint, "attempt", m.attempts+1,
		"endpoint_index", m.cursor+1, "endpoint_count", len(m.cfg.Endpoints))
	return endpoint
}

func (m *Manager) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// scheduleRetry records a failed attempt. It returns the wait before the next
// one, or false after entering StatusError or when Disconnect detached the
// loop.
func (m *Manager) scheduleRetry(done chan struct{}, endpoint string, cause error) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != done {
		return 0, false
	}
	if m.attempts >= m.backoff.MaxRetries() {
		m.lastErr = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, m.attempts+1, cause)
		m.log.Error("Giving up on the chat server", "event", "client_retries_exhausted",
			"endpoint", endpoint, "max_retries", m.backoff.MaxRetries(), "error", cause)
		m.setStatusLocked(StatusError)
		m.emit(m.localMessage(chat.TypeError, RetriesExhaustedText))
		return 0, false
	}

	m.attempts++
	if m.attempts%2 == 0 {
		m.cursor = (m.cursor + 1) % len(m.cfg.Endpoints)
	}
	delay := m.backoff.Delay(m.attempts)

	m.setStatusLocked(StatusDisconnected)
	m.log.Warn("Connection lost, reconnecting", "event", "client_reconnect_scheduled",
		"endpoint", endpoint, "attempt", m.attempts, "max_retries", m.backoff.MaxRetries(),
		"delay_ms", delay.Milliseconds(), "error", cause)
	return delay, true
}

// serve announces the user on a fresh connection and routes frames until it
// closes. The returned error describes why it closed.
func (m *Manager) serve(ctx context.Context, done chan struct{}, conn *websocket.Conn) error {
	defer conn.CloseNow()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := wsjson.Write(wctx, conn, chat.Message{Type: chat.TypeConnect, Username: m.cfg.Username})
	cancel()
	if err != nil {
		return fmt.Errorf("send connect frame: %w", err)
	}

	m.mu.Lock()
	if m.done != done {
		m.mu.Unlock()
		return context.Canceled
	}
	m.conn = conn
	m.attempts = 0
	m.cursor = 0
	m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.log.Info("Connected to chat server", "event", "client_connected")
	m.emit(m.localMessage(chat.TypeSystem, ConnectedText))

	err = m.readLoop(ctx, conn)

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.log.Info("Connection closed", "event", "client_closed",
				"status", websocket.CloseStatus(err).String(), "error", err)
			return err
		}
		m.handleFrame(data)
	}
}

func (m *Manager) handleFrame(data []byte) {
	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Warn("Dropping malformed frame", "event", "client_malformed_frame", "error", err)
		return
	}

	switch msg.Type {
	case chat.TypeHistory:
		for i := range msg.Data {
			tagID(&msg.Data[i])
		}
		if msg.Data == nil {
			msg.Data = []chat.Message{}
		}
		select {
		case m.history <- msg.Data:
		default:
			m.log.Warn("History buffer full, dropping snapshot", "event", "client_history_dropped",
				"history_count", len(msg.Data))
		}
		return

	case chat.TypeChat:
		if msg.ID != "" && m.pending.Seen(msg.ID) {
			m.log.Debug("Skipping echo of own message", "event", "client_echo_suppressed", "message_id", msg.ID)
			return
		}
	}

	tagID(&msg)
	m.emit(msg)
}

// tagID gives id-less chat and system messages a local id.
func tagID(msg *chat.Message) {
	if msg.ID == "" && msg.Persistable() {
		msg.ID = chat.NewID()
	}
}

func (m *Manager) localMessage(typ chat.Type, text string) chat.Message {
	return chat.Message{ID: chat.NewID(), Type: typ, Message: text, Timestamp: m.now().UTC()}
}

func (m *Manager) emit(msg chat.Message) {
	select {
	case m.messages <- msg:
	default:
		m.log.Warn("Message buffer full, dropping message", "event", "client_message_dropped",
			"type", msg.Type, "message_id", msg.ID)
	}
}

// setStatusLocked must be called with mu held.
func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	select {
	case m.statuses <- s:
	default:
	}
}
