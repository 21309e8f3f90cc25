// Package hub implements the broadcast hub: it owns every live chat
// connection, validates and persists inbound messages and fans them out.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/MoldoAndr/EL8S-Shop/internal/database"
	"github.com/MoldoAndr/EL8S-Shop/internal/pubsub"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// BusTopic is the bus channel accepted messages are published on.
	BusTopic = "chat.messages"

	defaultPingInterval = time.Minute
	defaultWriteWait    = 5 * time.Second
	defaultKeepalive    = 15 * time.Second
	defaultSendBuffer   = 256
	defaultCloseGrace   = time.Second

	persistTimeout   = 10 * time.Second
	storePingTimeout = 5 * time.Second
)

// ErrStopped is returned by Serve once the hub has been stopped.
var ErrStopped = errors.New("hub stopped")

// Hub maintains the set of live connections and relays messages between them.
type Hub struct {
	id    string
	store database.Gateway
	bus   pubsub.Bus

	pingInterval time.Duration
	writeWait    time.Duration
	keepalive    time.Duration
	sendBuffer   int
	closeGrace   time.Duration
	now          func() time.Time
	log          *slog.Logger

	mu      sync.RWMutex
	conns   map[string]*connection
	stopped bool
	serving sync.WaitGroup

	// persistMu keeps stamp order and store order the same.
	persistMu sync.Mutex
	stampMu   sync.Mutex
	lastStamp time.Time

	reconnecting atomic.Bool
	cancel       context.CancelFunc
	background   sync.WaitGroup
}

// Option customizes a Hub.
type Option func(*Hub)

// WithBus publishes accepted messages on bus and relays what arrives from it.
func WithBus(bus pubsub.Bus) Option {
	return func(h *Hub) { h.bus = bus }
}

// WithPingInterval sets how often the store is health checked.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingInterval = d }
}

// WithWriteWait bounds every socket write.
func WithWriteWait(d time.Duration) Option {
	return func(h *Hub) { h.writeWait = d }
}

// WithKeepalive sets the websocket ping period.
func WithKeepalive(d time.Duration) Option {
	return func(h *Hub) { h.keepalive = d }
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) { h.sendBuffer = n }
}

// WithCloseGrace bounds how long Stop waits for a peer to answer the
// going-away close frame before dropping the connection.
func WithCloseGrace(d time.Duration) Option {
	return func(h *Hub) { h.closeGrace = d }
}

// WithClock replaces time.Now for timestamping.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithLogger sets the hub's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// New creates a hub persisting to store.
func New(store database.Gateway, opts ...Option) *Hub {
	h := &Hub{
		id:           uuid.NewString(),
		store:        store,
		pingInterval: defaultPingInterval,
		writeWait:    defaultWriteWait,
		keepalive:    defaultKeepalive,
		sendBuffer:   defaultSendBuffer,
		closeGrace:   defaultCloseGrace,
		now:          time.Now,
		log:          slog.Default(),
		conns:        make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "hub", "hub_id", h.id)
	return h
}

// ID identifies this hub instance on the bus.
func (h *Hub) ID() string {
	return h.id
}

// Start launches the store health check and, when a bus is configured, the
// bus subscription. Background work stops when ctx ends or Stop is called.
func (h *Hub) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	if h.bus != nil {
		if err := h.bus.Subscribe(ctx, BusTopic, h.handleBusMessage); err != nil {
			cancel()
			return fmt.Errorf("subscribe to %s: %w", BusTopic, err)
		}
	}

	h.background.Add(1)
	go h.monitorStore(ctx)

	h.log.InfoContext(ctx, "Hub started", "event", "hub_start",
		"ping_interval", h.pingInterval.String(), "bus_enabled", h.bus != nil)
	return nil
}

// Stop closes every connection with a going-away status and waits for their
// handlers and the background work to finish, or for ctx to end.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
	}

	for _, c := range conns {
		go c.goAway(h.closeGrace)
	}

	done := make(chan struct{})
	go func() {
		h.serving.Wait()
		h.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.InfoContext(ctx, "Hub stopped", "event", "hub_stop", "closed_connections", len(conns))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Serve runs one accepted websocket for its whole lifetime: it sends the
// history snapshot, processes inbound frames in order and cleans up on close.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	c := newConnection(h, ws, cancel)
	defer ws.CloseNow()
	defer cancel()

	if !h.register(c) {
		ws.Close(websocket.StatusGoingAway, "server shutting down")
		return ErrStopped
	}
	defer h.serving.Done()

	go c.writePump(ctx)

	history, err := h.store.FindAllOrderedByTimestampAscending(ctx)
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to load history for new connection", "event", "conn_init_failure", "error", err)
		h.unregister(c)
		c.markClosed()
		c.writeNow(ctx, chat.ErrorFrame("Failed to initialize connection: "+err.Error()))
		ws.Close(websocket.StatusInternalError, "failed to initialize connection")
		return err
	}

	err = c.queueHistory(history)
	if err == nil {
		err = c.activate()
	}
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to send history", "event", "conn_init_failure", "error", err)
		h.unregister(c)
		c.markClosed()
		ws.Close(websocket.StatusInternalError, "failed to initialize connection")
		return err
	}
	c.log.InfoContext(ctx, "Connection accepted", "event", "conn_accepted",
		"history_count", len(history), "connection_count", h.ConnectionCount())

	c.readLoop(ctx)
	h.disconnect(c)
	return nil
}

func (h *Hub) register(c *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.conns[c.id] = c
	h.serving.Add(1)
	return true
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// disconnect removes c and announces the departure of its user, if any.
func (h *Hub) disconnect(c *connection) {
	h.unregister(c)
	c.markClosed()

	username := c.Username()
	c.log.Info("Connection closed", "event", "conn_closed", "username", username, "connection_count", h.ConnectionCount())
	if username == "" {
		return
	}

	if err := h.accept(context.Background(), chat.NewSystem(username, chat.LeftText(username))); err != nil {
		c.log.Error("Failed to record departure", "event", "conn_leave_failure", "username", username, "error", err)
	}
}

// handleFrame processes one inbound frame to completion.
func (h *Hub) handleFrame(ctx context.Context, c *connection, data []byte) {
	in, err := chat.Parse(data)
	if err == nil {
		switch in.Type {
		case chat.TypeConnect:
			err = h.handleConnect(ctx, c, in)
		case chat.TypeChat:
			err = h.handleChat(ctx, c, in)
		default:
			err = chat.ErrUnknownType
		}
	}
	if err != nil {
		h.reject(ctx, c, err)
	}
}

func (h *Hub) handleConnect(ctx context.Context, c *connection, in chat.Inbound) error {
	req, err := in.Connect()
	if err != nil {
		return err
	}
	c.setUsername(req.Username)
	c.log.InfoContext(ctx, "User joined", "event", "user_join", "username", req.Username)

	return h.accept(ctx, chat.NewSystem(req.Username, chat.JoinedText(req.Username)))
}

func (h *Hub) handleChat(ctx context.Context, c *connection, in chat.Inbound) error {
	req, err := in.Chat()
	if err != nil {
		return err
	}
	id := req.ID
	if id == "" {
		id = chat.NewID()
	}

	return h.accept(ctx, chat.Message{
		ID:       id,
		Type:     chat.TypeChat,
		Username: req.Username,
		Message:  req.Message,
	})
}

// reject reports err to the offending connection only.
func (h *Hub) reject(ctx context.Context, c *connection, err error) {
	text := "Failed to process message"
	var perr *chat.ProtocolError
	if errors.As(err, &perr) {
		text = perr.Reason
		c.log.DebugContext(ctx, "Rejected frame", "event", "frame_rejected", "reason", text)
	} else {
		c.log.ErrorContext(ctx, "Failed to process frame", "event", "frame_failure", "error", err)
	}
	c.sendMessage(chat.ErrorFrame(text))
}

// accept stamps, persists and then distributes msg. The write is detached
// from ctx so a closing connection never aborts it.
func (h *Hub) accept(ctx context.Context, msg chat.Message) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	id, err := h.persist(pctx, &msg)
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	msg.ID = id

	h.distribute(pctx, msg)
	return nil
}

// persist stamps and stores msg while holding persistMu, so no later stamp
// can reach the store first. Distribution happens outside the lock.
func (h *Hub) persist(ctx context.Context, msg *chat.Message) (string, error) {
	h.persistMu.Lock()
	defer h.persistMu.Unlock()

	msg.Timestamp = h.stamp()
	return h.store.InsertOne(ctx, *msg)
}

// distribute hands msg to the bus, or straight to local connections when
// there is no bus or publishing fails.
func (h *Hub) distribute(ctx context.Context, msg chat.Message) {
	if h.bus == nil {
		h.Broadcast(msg)
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to encode message for bus", "event", "bus_encode_failure", "message_id", msg.ID, "error", err)
		h.Broadcast(msg)
		return
	}

	err = h.bus.Publish(ctx, pubsub.Message{
		Topic:    BusTopic,
		Origin:   h.id,
		Payload:  payload,
		Metadata: map[string]string{"message_id": msg.ID},
	})
	if err != nil {
		h.log.WarnContext(ctx, "Bus publish failed, broadcasting locally", "event", "bus_publish_failure", "message_id", msg.ID, "error", err)
		h.Broadcast(msg)
	}
}

func (h *Hub) handleBusMessage(ctx context.Context, m pubsub.Message) error {
	var msg chat.Message
	if err := json.Unmarshal(m.Payload, &msg); err != nil {
		return fmt.Errorf("decode bus message: %w", err)
	}
	if !msg.Persistable() {
		return fmt.Errorf("unexpected bus message type %q", msg.Type)
	}
	h.Broadcast(msg)
	return nil
}

// Broadcast sends msg to every connection that is still open. Delivery to
// one connection never blocks or fails delivery to another.
func (h *Hub) Broadcast(msg chat.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("Failed to encode broadcast", "event", "broadcast_encode_failure", "message_id", msg.ID, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.deliver(frame) {
			delivered++
		}
	}
	h.log.Debug("Broadcast message", "event", "broadcast", "message_id", msg.ID,
		"recipient_count", delivered, "connection_count", len(targets))
}

// stamp returns a non-decreasing UTC timestamp.
func (h *Hub) stamp() time.Time {
	now := h.now().UTC()

	h.stampMu.Lock()
	defer h.stampMu.Unlock()
	if now.Before(h.lastStamp) {
		now = h.lastStamp
	}
	h.lastStamp = now
	return now
}

func (h *Hub) monitorStore(ctx context.Context) {
	defer h.background.Done()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkStore(ctx)
		}
	}
}

// checkStore pings the store and, on failure, reconnects in the background.
// Live connections are left alone either way.
func (h *Hub) checkStore(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	err := h.store.Ping(pctx)
	cancel()
	if err == nil {
		h.log.DebugContext(ctx, "Store health check passed", "event", "store_ping_ok")
		return
	}
	h.log.WarnContext(ctx, "Store health check failed", "event", "store_ping_failure", "error", err)

	r, ok := h.store.(database.Reconnector)
	if !ok {
		return
	}
	if !h.reconnecting.CompareAndSwap(false, true) {
		h.log.DebugContext(ctx, "Store reconnection already in progress", "event", "store_reconnect_pending")
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		defer h.reconnecting.Store(false)

		h.log.InfoContext(ctx, "Reconnecting to store", "event", "store_reconnect_attempt")
		if err := r.Reconnect(ctx); err != nil {
			h.log.ErrorContext(ctx, "Store reconnection failed", "event", "store_reconnect_failure", "error", err)
			return
		}
		h.log.InfoContext(ctx, "Store reconnected", "event", "store_reconnect_success")
	}()
}
