package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/redis/go-redis/v9"
)

const chatHistoryKey = "chat:history"

var _ Gateway = (*RedisGateway)(nil)

// RedisGateway keeps the log in a Redis list. RPUSH preserves insertion order,
// which is also timestamp order because the hub stamps monotonically.
type RedisGateway struct {
	rdb *redis.Client
	key string
}

// NewRedisGateway parses a redis:// URL and creates the client. The connection
// is established lazily by go-redis.
func NewRedisGateway(redisURL string) (*RedisGateway, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, NewDBError(fmt.Errorf("%w: %w", ErrInvalidInput, err), "parse redis url")
	}
	return NewRedisGatewayWithClient(redis.NewClient(opts)), nil
}

// NewRedisGatewayWithClient wraps an existing client.
func NewRedisGatewayWithClient(rdb *redis.Client) *RedisGateway {
	return &RedisGateway{rdb: rdb, key: chatHistoryKey}
}

// InsertOne implements Gateway.
func (g *RedisGateway) InsertOne(ctx context.Context, msg chat.Message) (string, error) {
	if !msg.Persistable() {
		return "", NewDBError(ErrInvalidInput, "insert message: only chat and system messages are stored")
	}
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", NewDBError(fmt.Errorf("%w: %w", ErrInvalidInput, err), "encode message")
	}
	if err := g.rdb.RPush(ctx, g.key, data).Err(); err != nil {
		return "", queryFailed(err, "insert message")
	}
	return msg.ID, nil
}

// FindAllOrderedByTimestampAscending implements Gateway. Entries that no
// longer decode are skipped and logged.
func (g *RedisGateway) FindAllOrderedByTimestampAscending(ctx context.Context) ([]chat.Message, error) {
	raw, err := g.rdb.LRange(ctx, g.key, 0, -1).Result()
	if err != nil {
		return nil, queryFailed(err, "load message history")
	}

	msgs := make([]chat.Message, 0, len(raw))
	for i, entry := range raw {
		var msg chat.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			slog.WarnContext(ctx, "Skipping undecodable history entry", "event", "store_entry_invalid",
				"key", g.key, "index", i, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ping implements Gateway.
func (g *RedisGateway) Ping(ctx context.Context) error {
	if err := g.rdb.Ping(ctx).Err(); err != nil {
		return NewDBError(fmt.Errorf("%w: %w", ErrNotConnected, err), "ping redis")
	}
	return nil
}

// Client exposes the underlying client so a redis bus can share it.
func (g *RedisGateway) Client() *redis.Client {
	return g.rdb
}

// Close implements Gateway.
func (g *RedisGateway) Close(ctx context.Context) error {
	return g.rdb.Close()
}
