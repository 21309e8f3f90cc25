package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/retry"
	"github.com/stretchr/testify/assert"
)

func TestDBError(t *testing.T) {
	err := queryFailed(errors.New("socket closed"), "insert message").WithQuery("CREATE message")
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.NotErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, err.Error(), "insert message")
	assert.Contains(t, err.Error(), "CREATE message")
	assert.Contains(t, err.Error(), "socket closed")

	notConnected := NewDBError(ErrNotConnected, "database not connected")
	assert.ErrorIs(t, notConnected, ErrNotConnected)
	assert.True(t, isConnectionError(notConnected))
	assert.True(t, isConnectionError(errors.New("dial tcp: connection refused")))
	assert.False(t, isConnectionError(errors.New("parse error near SELECT")))
}

func TestRedactDBURL(t *testing.T) {
	assert.Equal(t, "ws://root:xxxxx@localhost:8000/rpc", redactDBURL("ws://root:secret@localhost:8000/rpc"))
	assert.Equal(t, "ws://localhost:8000/rpc", redactDBURL("ws://localhost:8000/rpc"))
	assert.Equal(t, "invalid-url", redactDBURL("ws://[::1"))
}

func TestConnectionWithoutDial(t *testing.T) {
	conn := NewConnection(SurrealConfig{URL: "ws://localhost:1/rpc"}, retry.New(0, time.Millisecond, time.Millisecond))

	err := conn.WithConnection(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, conn.Ping(context.Background()), ErrNotConnected)
	assert.False(t, conn.IsHealthy())
	assert.NoError(t, conn.Close(context.Background()))
}
