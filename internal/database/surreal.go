package database

import (
	"context"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const messageTable = "message"

const (
	insertMessageQuery  = "CREATE type::table($table) CONTENT $data"
	selectMessagesQuery = "SELECT * FROM type::table($table) ORDER BY timestamp ASC"
)

var _ Gateway = (*SurrealGateway)(nil)
var _ Reconnector = (*SurrealGateway)(nil)

// messageRecord is the stored shape of a chat.Message. The record id belongs
// to SurrealDB; the logical message id lives in message_id.
type messageRecord struct {
	ID        *surrealmodels.RecordID       `json:"id,omitempty"`
	MessageID string                        `json:"message_id"`
	Type      string                        `json:"type"`
	Username  string                        `json:"username,omitempty"`
	Message   string                        `json:"message,omitempty"`
	Timestamp *surrealmodels.CustomDateTime `json:"timestamp,omitempty"`
}

func (r messageRecord) toMessage() chat.Message {
	msg := chat.Message{
		ID:       r.MessageID,
		Type:     chat.Type(r.Type),
		Username: r.Username,
		Message:  r.Message,
	}
	if r.Timestamp != nil {
		msg.Timestamp = r.Timestamp.Time.UTC()
	}
	return msg
}

// SurrealGateway stores the message log in a SurrealDB table.
type SurrealGateway struct {
	conn  *Connection
	table string
}

// NewSurrealGateway creates a gateway over a managed connection.
func NewSurrealGateway(conn *Connection) *SurrealGateway {
	return &SurrealGateway{conn: conn, table: messageTable}
}

// InsertOne implements Gateway.
func (g *SurrealGateway) InsertOne(ctx context.Context, msg chat.Message) (string, error) {
	if !msg.Persistable() {
		return "", NewDBError(ErrInvalidInput, "insert message: only chat and system messages are stored")
	}
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	data := map[string]any{
		"message_id": msg.ID,
		"type":       string(msg.Type),
		"username":   msg.Username,
		"message":    msg.Message,
		"timestamp":  surrealmodels.CustomDateTime{Time: ts.UTC()},
	}

	err := g.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		_, err := QueryOne[messageRecord](ctx, db, insertMessageQuery, map[string]any{
			"table": g.table,
			"data":  data,
		})
		return err
	})
	if err != nil {
		return "", NewDBError(err, "insert message")
	}
	return msg.ID, nil
}

// FindAllOrderedByTimestampAscending implements Gateway.
func (g *SurrealGateway) FindAllOrderedByTimestampAscending(ctx context.Context) ([]chat.Message, error) {
	var records []messageRecord
	err := g.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		records, err = Query[messageRecord](ctx, db, selectMessagesQuery, map[string]any{"table": g.table})
		return err
	})
	if err != nil {
		return nil, NewDBError(err, "load message history")
	}

	msgs := make([]chat.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, r.toMessage())
	}
	return msgs, nil
}

// Ping implements Gateway.
func (g *SurrealGateway) Ping(ctx context.Context) error {
	return g.conn.Ping(ctx)
}

// Reconnect implements Reconnector.
func (g *SurrealGateway) Reconnect(ctx context.Context) error {
	return g.conn.Reconnect(ctx)
}

// Close implements Gateway.
func (g *SurrealGateway) Close(ctx context.Context) error {
	return g.conn.Close(ctx)
}
