package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/MoldoAndr/EL8S-Shop/internal/database"
	"github.com/MoldoAndr/EL8S-Shop/internal/hub"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHub serves a real hub. Requests numbered up to failFirst are refused
// with 503 so dials fail.
func startHub(t *testing.T, failFirst int32) (*hub.Hub, string, *atomic.Int32) {
	t.Helper()

	h := hub.New(database.NewMemoryGateway())
	require.NoError(t, h.Start(context.Background()))

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= failFirst {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		h.Serve(r.Context(), ws)
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Stop(ctx)
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http"), &requests
}

// deadEndpoint returns a URL nothing listens on.
func deadEndpoint(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	return url
}

func newManager(t *testing.T, username string, maxRetries int, endpoints ...string) *Manager {
	t.Helper()
	m, err := New(Config{
		Endpoints:   endpoints,
		Username:    username,
		MaxRetries:  maxRetries,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  40 * time.Millisecond,
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)
	return m
}

// nextMessage returns the next live message of the given type, skipping
// others.
func nextMessage(t *testing.T, m *Manager, typ chat.Type) chat.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-m.Messages():
			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for a %s message", typ)
		}
	}
}

func waitForStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, 5*time.Second, 5*time.Millisecond,
		"status is %s, want %s", m.Status(), want)
}

func TestManager_ConnectAnnouncesUser(t *testing.T) {
	h, url, _ := startHub(t, 0)
	m := newManager(t, "alice", 5, url)

	m.Connect()
	waitForStatus(t, m, StatusConnected)

	notice := nextMessage(t, m, chat.TypeSystem)
	assert.Equal(t, ConnectedText, notice.Message)
	assert.NotEmpty(t, notice.ID)

	select {
	case history := <-m.History():
		assert.NotNil(t, history)
		assert.Empty(t, history)
	case <-time.After(3 * time.Second):
		t.Fatal("no history snapshot")
	}

	ack := nextMessage(t, m, chat.TypeConnectSuccess)
	assert.Equal(t, chat.ConnectSuccessText, ack.Message)

	joined := nextMessage(t, m, chat.TypeSystem)
	assert.Equal(t, "alice has joined the chat", joined.Message)
	assert.Equal(t, 1, h.ConnectionCount())
}

func TestManager_SendMessageSuppressesOwnEcho(t *testing.T) {
	_, url, _ := startHub(t, 0)

	alice := newManager(t, "alice", 5, url)
	alice.Connect()
	waitForStatus(t, alice, StatusConnected)
	nextMessage(t, alice, chat.TypeConnectSuccess)

	bob := newManager(t, "bob", 5, url)
	bob.Connect()
	waitForStatus(t, bob, StatusConnected)
	nextMessage(t, bob, chat.TypeConnectSuccess)

	id, err := alice.SendMessage("alice", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	received := nextMessage(t, bob, chat.TypeChat)
	assert.Equal(t, id, received.ID, "the hub keeps the sender's id")
	assert.Equal(t, "hi", received.Message)

	_, err = bob.SendMessage("bob", "hello alice")
	require.NoError(t, err)

	// The first chat alice sees is bob's: her own echo was suppressed.
	fromBob := nextMessage(t, alice, chat.TypeChat)
	assert.Equal(t, "bob", fromBob.Username)
	assert.Equal(t, "hello alice", fromBob.Message)
}

func TestManager_SendWhileDisconnected(t *testing.T) {
	m := newManager(t, "alice", 0, deadEndpoint(t))

	id, err := m.SendMessage("alice", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, id)

	notice := nextMessage(t, m, chat.TypeError)
	assert.Equal(t, NotConnectedText, notice.Message)

	// Sending triggered a connection attempt, which fails with no retries.
	waitForStatus(t, m, StatusError)
	failure := nextMessage(t, m, chat.TypeError)
	assert.Equal(t, RetriesExhaustedText, failure.Message)
	assert.ErrorIs(t, m.Err(), ErrRetriesExhausted)
}

func TestManager_Reconnection(t *testing.T) {
	const maxRetries = 3

	t.Run("reaches connected when a retry succeeds", func(t *testing.T) {
		_, url, requests := startHub(t, maxRetries)
		m := newManager(t, "alice", maxRetries, url)

		m.Connect()
		waitForStatus(t, m, StatusConnected)
		assert.Equal(t, int32(maxRetries+1), requests.Load())
		assert.NoError(t, m.Err())
	})

	t.Run("enters error once when the first dial and every retry fail", func(t *testing.T) {
		_, url, requests := startHub(t, maxRetries+1)
		m := newManager(t, "alice", maxRetries, url)

		m.Connect()
		waitForStatus(t, m, StatusError)

		failure := nextMessage(t, m, chat.TypeError)
		assert.Equal(t, RetriesExhaustedText, failure.Message)

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(maxRetries+1), requests.Load(), "no dial after giving up")

		errorTransitions := 0
		for len(m.StatusChanges()) > 0 {
			if <-m.StatusChanges() == StatusError {
				errorTransitions++
			}
		}
		assert.Equal(t, 1, errorTransitions)
	})

	t.Run("an explicit connect after error starts over", func(t *testing.T) {
		_, url, _ := startHub(t, maxRetries+1)
		m := newManager(t, "alice", maxRetries, url)

		m.Connect()
		waitForStatus(t, m, StatusError)

		m.Connect()
		waitForStatus(t, m, StatusConnected)
	})

	t.Run("fails over to the next endpoint every second failure", func(t *testing.T) {
		_, url, requests := startHub(t, 0)
		m := newManager(t, "alice", 5, deadEndpoint(t), url)

		m.Connect()
		waitForStatus(t, m, StatusConnected)
		assert.Equal(t, int32(1), requests.Load(), "two failures on the dead endpoint, then one dial here")
	})
}

func TestManager_ReconnectsAfterAbruptClose(t *testing.T) {
	h := hub.New(database.NewMemoryGateway())
	require.NoError(t, h.Start(context.Background()))

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		if requests.Add(1) == 1 {
			ws.Read(r.Context())
			ws.CloseNow()
			return
		}
		h.Serve(r.Context(), ws)
	}))
	t.Cleanup(func() {
		h.Stop(context.Background())
		srv.Close()
	})

	m := newManager(t, "alice", 5, "ws"+strings.TrimPrefix(srv.URL, "http"))
	m.Connect()

	joined := nextMessage(t, m, chat.TypeConnectSuccess)
	assert.Equal(t, chat.ConnectSuccessText, joined.Message)
	waitForStatus(t, m, StatusConnected)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, 1, h.ConnectionCount())
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	h, url, requests := startHub(t, 0)
	m := newManager(t, "alice", 5, url)

	m.Connect()
	waitForStatus(t, m, StatusConnected)
	nextMessage(t, m, chat.TypeConnectSuccess)

	_, err := m.SendMessage("alice", "bye")
	require.NoError(t, err)

	m.Disconnect()
	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Zero(t, m.pending.Len(), "the pending ledger is cleared")

	m.Disconnect()
	assert.Equal(t, StatusDisconnected, m.Status())

	require.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), requests.Load(), "a requested close never reconnects")
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestManager_HandleFrame(t *testing.T) {
	m := newManager(t, "alice", 0, "ws://localhost:1/ws")

	t.Run("drops malformed frames", func(t *testing.T) {
		m.handleFrame([]byte(`{not json`))
		m.handleFrame([]byte(`["array"]`))
		assert.Empty(t, m.Messages())
	})

	t.Run("routes history and tags id-less entries", func(t *testing.T) {
		m.handleFrame([]byte(`{"type":"history","data":[{"type":"chat","username":"bob","message":"old"},{"id":"x","type":"system","message":"joined"}]}`))

		history := <-m.History()
		require.Len(t, history, 2)
		assert.NotEmpty(t, history[0].ID)
		assert.Equal(t, "x", history[1].ID)
		assert.Empty(t, m.Messages(), "history never reaches the live channel")
	})

	t.Run("tags id-less chat and leaves other frames alone", func(t *testing.T) {
		m.handleFrame([]byte(`{"type":"chat","username":"bob","message":"legacy"}`))
		m.handleFrame([]byte(`{"type":"error","message":"Unknown message type"}`))

		chatMsg := <-m.Messages()
		assert.NotEmpty(t, chatMsg.ID)
		errMsg := <-m.Messages()
		assert.Equal(t, chat.TypeError, errMsg.Type)
		assert.Empty(t, errMsg.ID)
	})

	t.Run("suppresses chat whose id is pending", func(t *testing.T) {
		m.pending.Record("mine")
		m.handleFrame([]byte(`{"id":"mine","type":"chat","username":"alice","message":"hi"}`))
		m.handleFrame([]byte(`{"id":"theirs","type":"chat","username":"bob","message":"hi"}`))

		msg := <-m.Messages()
		assert.Equal(t, "theirs", msg.ID)
		assert.Empty(t, m.Messages())
	})
}
