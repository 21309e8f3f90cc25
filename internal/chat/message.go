// Package chat defines the relay's message model and the wire frames exchanged
// between the hub and its clients.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates wire frames and stored messages.
type Type string

const (
	TypeChat           Type = "chat"
	TypeSystem         Type = "system"
	TypeHistory        Type = "history"
	TypeConnectSuccess Type = "connect_success"
	TypeError          Type = "error"

	// TypeConnect is only ever sent by clients.
	TypeConnect Type = "connect"
)

// ConnectSuccessText is the acknowledgement sent after the history snapshot.
const ConnectSuccessText = "Successfully connected to chat server"

// Message is a single chat or system entry, and also the envelope for history,
// acknowledgement and error frames.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Type      Type      `json:"type"`
	Username  string    `json:"username,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Data      []Message `json:"data,omitzero"`
}

// Persistable reports whether the message belongs in the log.
func (m Message) Persistable() bool {
	return m.Type == TypeChat || m.Type == TypeSystem
}

// NewID returns a fresh opaque message identifier.
func NewID() string {
	return uuid.NewString()
}

// JoinedText is the body of the system message emitted when username connects.
func JoinedText(username string) string {
	return username + " has joined the chat"
}

// LeftText is the body of the system message emitted when username disconnects.
func LeftText(username string) string {
	return username + " has left the chat"
}

// NewSystem builds a system message announcing username.
func NewSystem(username, text string) Message {
	return Message{
		ID:       NewID(),
		Type:     TypeSystem,
		Username: username,
		Message:  text,
	}
}

// HistoryFrame wraps the ordered log snapshot sent on accept.
func HistoryFrame(msgs []Message) Message {
	if msgs == nil {
		msgs = []Message{}
	}
	return Message{Type: TypeHistory, Data: msgs}
}

// ConnectSuccessFrame acknowledges a completed accept.
func ConnectSuccessFrame() Message {
	return Message{Type: TypeConnectSuccess, Message: ConnectSuccessText}
}

// ErrorFrame carries a diagnostic to a single client.
func ErrorFrame(text string) Message {
	return Message{Type: TypeError, Message: text}
}
