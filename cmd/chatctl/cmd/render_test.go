package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
	"github.com/MoldoAndr/EL8S-Shop/internal/client"
	"github.com/stretchr/testify/assert"
)

func TestFormatMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	clock := ts.Local().Format(time.TimeOnly)

	tests := []struct {
		name string
		msg  chat.Message
		want string
	}{
		{"chat shows the author", chat.Message{Type: chat.TypeChat, Username: "alice", Message: "hi", Timestamp: ts}, "[" + clock + "] alice: hi"},
		{"system is marked", chat.Message{Type: chat.TypeSystem, Message: "bob has joined the chat", Timestamp: ts}, "[" + clock + "] * bob has joined the chat"},
		{"acknowledgement reads like system", chat.Message{Type: chat.TypeConnectSuccess, Message: chat.ConnectSuccessText}, "* " + chat.ConnectSuccessText},
		{"errors are marked", chat.Message{Type: chat.TypeError, Message: "Unknown message type"}, "! Unknown message type"},
		{"unknown types are labelled", chat.Message{Type: "presence", Message: "away"}, "(presence) away"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMessage(tt.msg, false))
		})
	}

	t.Run("colour wraps the line", func(t *testing.T) {
		got := formatMessage(chat.Message{Type: chat.TypeError, Message: "boom"}, true)
		assert.True(t, strings.HasPrefix(got, ansiRed))
		assert.True(t, strings.HasSuffix(got, ansiReset))
	})
}

func TestTerminal_RendersEachMessageOnce(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out, false)

	msg := chat.Message{ID: "m1", Type: chat.TypeChat, Username: "alice", Message: "hi"}
	term.history([]chat.Message{msg})
	term.render(msg)
	term.render(chat.Message{Type: chat.TypeError, Message: "offline"})
	term.render(chat.Message{Type: chat.TypeError, Message: "offline"})

	output := out.String()
	assert.Equal(t, 1, strings.Count(output, "alice: hi"))
	assert.Equal(t, 2, strings.Count(output, "! offline"), "keyless messages always render")
	assert.Contains(t, output, "== history: 1 messages ==")
}

func TestTerminal_Status(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out, false)

	term.status(client.StatusConnecting)
	term.status(client.StatusConnected)

	assert.Equal(t, "-- connecting\n-- connected\n", out.String())
}

func TestRenderMessagesTable(t *testing.T) {
	table := renderMessagesTable([]chat.Message{
		{ID: "m1", Type: chat.TypeChat, Username: "alice", Message: "hi", Timestamp: time.Now()},
		{ID: "s1", Type: chat.TypeSystem, Message: "bob has joined the chat"},
	})

	for _, want := range []string{"TIME", "TYPE", "USER", "MESSAGE", "alice", "hi", "bob has joined the chat", "m1", "s1"} {
		assert.Contains(t, table, want)
	}
}

func TestShouldColorize_NonFile(t *testing.T) {
	assert.False(t, shouldColorize(&bytes.Buffer{}))
}
