package chat

// ProtocolError is a frame-level failure reported back to the offending client.
// Its Error text is exactly what goes on the wire.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return e.Reason
}

// Protocol errors returned by Parse and the validators. Compare with errors.Is.
var (
	ErrInvalidJSON     = &ProtocolError{Reason: "Invalid JSON format"}
	ErrNotObject       = &ProtocolError{Reason: "Message must be a valid object"}
	ErrInvalidUsername = &ProtocolError{Reason: "Invalid or non-ASCII username"}
	ErrInvalidContent  = &ProtocolError{Reason: "Invalid or non-ASCII message content"}
	ErrInvalidID       = &ProtocolError{Reason: "Invalid message id"}
	ErrUnknownType     = &ProtocolError{Reason: "Unknown message type"}
)
