package chat

import (
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Inbound is a decoded client frame before validation. Fields that were
// present but not JSON strings are remembered so validation can reject them.
type Inbound struct {
	Type     Type
	ID       string
	Username string
	Message  string

	malformed map[string]bool
}

// ConnectRequest is a validated connect frame.
type ConnectRequest struct {
	Username string `validate:"required,printascii"`
}

// ChatRequest is a validated chat frame. ID is empty when the hub must assign one.
type ChatRequest struct {
	Username string `validate:"required,printascii"`
	Message  string `validate:"required,printascii"`
	ID       string `validate:"omitempty,max=128,printascii"`
}

// Parse decodes a raw frame. It fails with ErrInvalidJSON or ErrNotObject;
// field level problems are left to Connect and Chat.
func Parse(data []byte) (Inbound, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, ErrInvalidJSON
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return Inbound{}, ErrNotObject
	}

	in := Inbound{malformed: make(map[string]bool)}
	typ := in.field(obj, "type")
	in.ID = in.field(obj, "id")
	in.Username = in.field(obj, "username")
	in.Message = in.field(obj, "message")

	switch {
	case in.malformed["type"]:
		// A non-string type never matches a known frame.
		in.Type = Type("?")
	case typ == "" && in.Username != "" && in.Message != "":
		// Legacy clients send chat frames without a type.
		in.Type = TypeChat
	default:
		in.Type = Type(typ)
	}
	return in, nil
}

func (in *Inbound) field(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		in.malformed[key] = true
		return ""
	}
	return s
}

// Connect validates the frame as a connect request.
func (in Inbound) Connect() (ConnectRequest, error) {
	if in.malformed["username"] {
		return ConnectRequest{}, ErrInvalidUsername
	}
	req := ConnectRequest{Username: in.Username}
	if err := validate.Struct(req); err != nil {
		return ConnectRequest{}, protocolError(err)
	}
	return req, nil
}

// Chat validates the frame as a chat request.
func (in Inbound) Chat() (ChatRequest, error) {
	switch {
	case in.malformed["username"]:
		return ChatRequest{}, ErrInvalidUsername
	case in.malformed["message"]:
		return ChatRequest{}, ErrInvalidContent
	case in.malformed["id"]:
		return ChatRequest{}, ErrInvalidID
	}
	req := ChatRequest{Username: in.Username, Message: in.Message, ID: in.ID}
	if err := validate.Struct(req); err != nil {
		return ChatRequest{}, protocolError(err)
	}
	return req, nil
}

// protocolError maps the first failing field to its wire diagnostic.
func protocolError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].Field() {
	case "Username":
		return ErrInvalidUsername
	case "Message":
		return ErrInvalidContent
	default:
		return ErrInvalidID
	}
}
