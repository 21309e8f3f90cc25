package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Endpoints: []string{"ws://localhost:8080/ws"}, Username: "alice", MaxRetries: 5}.withDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBackoffBase, cfg.BackoffBase)
	assert.Equal(t, DefaultBackoffFactor, cfg.BackoffFactor)
	assert.Equal(t, DefaultBackoffCap, cfg.BackoffCap)
	assert.Equal(t, DefaultPendingWindow, cfg.PendingWindow)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Endpoints: []string{"ws://localhost:8080/ws"}, Username: "alice"}.withDefaults()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"rejects an empty endpoint list", func(c *Config) { c.Endpoints = nil }, "Endpoints"},
		{"rejects an endpoint that is not a URL", func(c *Config) { c.Endpoints = []string{"not a url"} }, "Endpoints[0]"},
		{"rejects an empty username", func(c *Config) { c.Username = "" }, "Username"},
		{"rejects a non-ASCII username", func(c *Config) { c.Username = "ålice" }, "Username"},
		{"rejects negative retries", func(c *Config) { c.MaxRetries = -1 }, "MaxRetries"},
		{"rejects a shrinking backoff", func(c *Config) { c.BackoffFactor = 0.5 }, "BackoffFactor"},
		{"rejects a cap below the base", func(c *Config) { c.BackoffCap = time.Millisecond }, "BackoffCap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Endpoints = append([]string(nil), valid.Endpoints...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_BackoffSchedule(t *testing.T) {
	cfg := Config{Endpoints: []string{"ws://localhost/ws"}, Username: "alice", MaxRetries: 5}.withDefaults()
	b := cfg.backoff()

	assert.Equal(t, 5, b.MaxRetries())
	assert.Equal(t, 1500*time.Millisecond, b.Delay(1))
	assert.Equal(t, 2250*time.Millisecond, b.Delay(2))
	assert.Equal(t, 10*time.Second, b.Delay(6), "capped")
}
