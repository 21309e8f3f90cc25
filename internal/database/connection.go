package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/MoldoAndr/EL8S-Shop/internal/retry"
	"github.com/surrealdb/surrealdb.go"
)

// SurrealConfig holds the connection settings for SurrealDB.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	User      string
	Pass      string
}

// Connection manages a SurrealDB connection and re-establishes it on demand.
type Connection struct {
	cfg     SurrealConfig
	conn    *surrealdb.DB
	retryer *retry.Retryer
	mu      sync.RWMutex
	healthy bool
}

// NewConnection creates a managed connection. Nothing is dialed until Connect.
func NewConnection(cfg SurrealConfig, retryer *retry.Retryer) *Connection {
	return &Connection{
		cfg:     cfg,
		retryer: retryer,
	}
}

// Connect establishes the initial connection, retrying with backoff.
func (c *Connection) Connect(ctx context.Context) error {
	if c.getConnection() != nil {
		return nil
	}
	return c.Reconnect(ctx)
}

// Reconnect drops the current connection, if any, and dials again with backoff.
func (c *Connection) Reconnect(ctx context.Context) error {
	return c.retryer.Retry(ctx, func() error {
		return c.forceReconnect(ctx)
	})
}

// WithConnection runs fn against the live connection. When fn fails with a
// connection-level error the connection is re-established and fn retried.
func (c *Connection) WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error {
	conn := c.getConnection()
	if conn == nil {
		return NewDBError(ErrNotConnected, "database not connected")
	}

	err := fn(conn)
	if err == nil || !isConnectionError(err) {
		return err
	}

	slog.WarnContext(ctx, "Database operation failed, attempting to reconnect",
		"event", "db_reconnect_triggered", "error", err, "db_url", redactDBURL(c.cfg.URL))

	return c.retryer.Retry(ctx, func() error {
		if reconnectErr := c.forceReconnect(ctx); reconnectErr != nil {
			return fmt.Errorf("reconnection failed: %w (original error: %v)", reconnectErr, err)
		}
		return fn(c.getConnection())
	})
}

// Ping asks the server for its version, the cheapest round trip available.
func (c *Connection) Ping(ctx context.Context) error {
	conn := c.getConnection()
	if conn == nil {
		c.setHealthy(false)
		return NewDBError(ErrNotConnected, "no active database connection")
	}

	if _, err := conn.Version(ctx); err != nil {
		c.setHealthy(false)
		return NewDBError(err, fmt.Sprintf("health check failed for %s", redactDBURL(c.cfg.URL)))
	}

	c.setHealthy(true)
	return nil
}

// IsHealthy reports the result of the last connect or ping.
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// Close shuts down the connection.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.conn = nil
	return err
}

func (c *Connection) getConnection() *surrealdb.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Connection) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

func (c *Connection) forceReconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect(ctx)
}

// reconnect must be called with mu held.
func (c *Connection) reconnect(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close(ctx)
		c.conn = nil
	}
	c.healthy = false

	dbURL := redactDBURL(c.cfg.URL)
	slog.DebugContext(ctx, "Attempting to connect to database", "event", "db_connect_attempt", "db_url", dbURL)

	conn, err := surrealdb.FromEndpointURLString(ctx, c.cfg.URL)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create database connection", "event", "db_connect_failure",
			"db_url", dbURL, "error", err)
		return fmt.Errorf("failed to connect to database at %s: %w", dbURL, err)
	}

	if c.cfg.User != "" {
		if _, err = conn.SignIn(ctx, &surrealdb.Auth{Username: c.cfg.User, Password: c.cfg.Pass}); err != nil {
			conn.Close(ctx)
			slog.ErrorContext(ctx, "Failed to sign in to database", "event", "db_auth_failure",
				"db_url", dbURL, "user", c.cfg.User, "error", err)
			return fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if err = conn.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
		conn.Close(ctx)
		slog.ErrorContext(ctx, "Failed to use namespace/database", "event", "db_namespace_failure",
			"db_url", dbURL, "namespace", c.cfg.Namespace, "database", c.cfg.Database, "error", err)
		return fmt.Errorf("failed to use namespace/db: %w", err)
	}

	c.conn = conn
	c.healthy = true
	slog.InfoContext(ctx, "Database connection established", "event", "db_connect_success",
		"db_url", dbURL, "namespace", c.cfg.Namespace, "database", c.cfg.Database)
	return nil
}

// isConnectionError checks if an error is likely due to a lost or failed connection.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "unexpected eof") ||
		strings.Contains(errMsg, "use of closed network connection")
}

// redactDBURL returns dbURL with any password replaced.
func redactDBURL(dbURL string) string {
	parsedURL, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return parsedURL.Redacted()
}
