package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// State is the lifecycle stage of a hub connection.
type State int

const (
	// StateAccepted: socket upgraded, history not yet queued.
	StateAccepted State = iota
	// StateHistorySent: history and acknowledgement queued, broadcasts still
	// backlogged.
	StateHistorySent
	// StateActive: receiving broadcasts and processing frames.
	StateActive
	// StateClosed: removed from the hub.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateHistorySent:
		return "history_sent"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// connection is one accepted websocket. Outbound frames go through send and
// are written by writePump. Frames broadcast before activation wait in
// backlog, and those already part of the history snapshot are dropped.
type connection struct {
	id     string
	ws     *websocket.Conn
	hub    *Hub
	send   chan []byte
	cancel context.CancelFunc
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	username string
	backlog  [][]byte
	snapshot map[string]struct{}
}

func newConnection(h *Hub, ws *websocket.Conn, cancel context.CancelFunc) *connection {
	id := uuid.NewString()
	return &connection{
		id:     id,
		ws:     ws,
		hub:    h,
		send:   make(chan []byte, h.sendBuffer),
		cancel: cancel,
		log:    h.log.With("conn_id", id),
		state:  StateAccepted,
	}
}

// Username returns the name recorded by the last connect frame.
func (c *connection) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *connection) setUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

// State returns the current lifecycle stage.
func (c *connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// queueHistory queues the history snapshot and the acknowledgement.
func (c *connection) queueHistory(history []chat.Message) error {
	historyFrame, err := json.Marshal(chat.HistoryFrame(history))
	if err != nil {
		return err
	}
	ackFrame, err := json.Marshal(chat.ConnectSuccessFrame())
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAccepted {
		return fmt.Errorf("cannot queue history in state %s", c.state)
	}

	c.enqueue(historyFrame)
	c.enqueue(ackFrame)
	c.snapshot = make(map[string]struct{}, len(history))
	for _, msg := range history {
		if msg.ID != "" {
			c.snapshot[msg.ID] = struct{}{}
		}
	}
	c.state = StateHistorySent
	return nil
}

// activate flushes the backlog and starts live delivery. Backlogged frames
// whose message is already in the history snapshot are skipped.
func (c *connection) activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateHistorySent {
		return fmt.Errorf("cannot activate in state %s", c.state)
	}

	skipped := 0
	for _, frame := range c.backlog {
		if _, ok := c.snapshot[frameID(frame)]; ok {
			skipped++
			continue
		}
		c.enqueue(frame)
	}
	if skipped > 0 {
		c.log.Debug("Skipped backlog frames already in history", "event", "backlog_skip", "skipped_count", skipped)
	}
	c.backlog = nil
	c.snapshot = nil
	c.state = StateActive
	return nil
}

// frameID returns the message id carried by an encoded frame, or "".
func frameID(frame []byte) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return ""
	}
	return head.ID
}

// deliver queues a broadcast frame. It reports false when the connection is
// closed or its buffer is full.
func (c *connection) deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return false
	case StateAccepted, StateHistorySent:
		c.backlog = append(c.backlog, frame)
		return true
	}
	return c.enqueue(frame)
}

// sendMessage queues a frame addressed to this connection only.
func (c *connection) sendMessage(msg chat.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("Failed to encode frame", "event", "frame_encode_failure", "error", err)
		return
	}
	c.deliver(frame)
}

// enqueue must be called with mu held. A full buffer drops the frame for this
// connection only.
func (c *connection) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("Send buffer full, dropping frame", "event", "send_buffer_full", "buffer_size", cap(c.send))
		return false
	}
}

func (c *connection) markClosed() {
	c.mu.Lock()
	c.state = StateClosed
	c.backlog = nil
	c.snapshot = nil
	c.mu.Unlock()
}

// goAway starts a going-away close handshake. A peer that has not answered
// within grace is dropped by canceling the connection context, which makes the
// blocked read close the socket.
func (c *connection) goAway(grace time.Duration) {
	timer := time.AfterFunc(grace, c.cancel)
	defer timer.Stop()
	c.ws.Close(websocket.StatusGoingAway, "server shutting down")
}

// writeNow bypasses the queue; used only before the connection is torn down.
func (c *connection) writeNow(ctx context.Context, msg chat.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, c.hub.writeWait)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, frame); err != nil {
		c.log.Warn("WebSocket write error", "event", "conn_write_failure", "error", err)
	}
}

// readLoop processes inbound frames one at a time until the socket closes.
func (c *connection) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.log.Debug("WebSocket closed by peer", "event", "conn_peer_close", "status", status.String())
			case errors.Is(err, io.EOF) || errors.Is(err, context.Canceled):
				c.log.Debug("WebSocket read ended", "event", "conn_read_end", "error", err)
			default:
				c.log.Warn("WebSocket read error", "event", "conn_read_failure", "error", err)
			}
			return
		}

		c.hub.handleFrame(ctx, c, data)
	}
}

// writePump drains send onto the socket and pings the peer periodically.
// A failed write tears the connection down.
func (c *connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.hub.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, c.hub.writeWait)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn("WebSocket write error", "event", "conn_write_failure", "error", err)
				}
				c.cancel()
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.hub.writeWait)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn("WebSocket ping failed", "event", "conn_ping_failure", "error", err)
				}
				c.cancel()
				return
			}
		}
	}
}
