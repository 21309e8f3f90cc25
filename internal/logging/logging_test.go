package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelDebug,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestSetup(t *testing.T) {
	t.Run("json format emits structured records", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup(&buf, "json", "info")

		logger.Info("Hub started", "event", "hub_start", "connection_count", 0)

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "Hub started", record["msg"])
		assert.Equal(t, "hub_start", record["event"])
	})

	t.Run("level filters lower records", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup(&buf, "json", "warn")

		logger.Info("ignored")
		assert.Empty(t, buf.String())

		logger.Warn("kept")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("text format is the default", func(t *testing.T) {
		var buf bytes.Buffer
		logger := Setup(&buf, "", "")

		logger.Debug("hello", "username", "alice")
		assert.Contains(t, buf.String(), "msg=hello")
		assert.Contains(t, buf.String(), "username=alice")
	})
}
