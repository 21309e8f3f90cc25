package database

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
)

var _ Gateway = (*MemoryGateway)(nil)

// MemoryGateway keeps the log in process memory. It backs the "memory" store
// driver and the hub tests.
type MemoryGateway struct {
	mu   sync.RWMutex
	msgs []chat.Message
}

// NewMemoryGateway returns an empty in-memory log.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

// InsertOne implements Gateway.
func (g *MemoryGateway) InsertOne(ctx context.Context, msg chat.Message) (string, error) {
	if !msg.Persistable() {
		return "", NewDBError(ErrInvalidInput, "insert message: only chat and system messages are stored")
	}
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Data = nil

	g.mu.Lock()
	g.msgs = append(g.msgs, msg)
	g.mu.Unlock()
	return msg.ID, nil
}

// FindAllOrderedByTimestampAscending implements Gateway.
func (g *MemoryGateway) FindAllOrderedByTimestampAscending(ctx context.Context) ([]chat.Message, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := slices.Clone(g.msgs)
	if out == nil {
		out = []chat.Message{}
	}
	return out, nil
}

// Len returns the number of stored messages.
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.msgs)
}

// Ping implements Gateway.
func (g *MemoryGateway) Ping(ctx context.Context) error {
	return nil
}

// Close implements Gateway.
func (g *MemoryGateway) Close(ctx context.Context) error {
	return nil
}
