package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the maximum accepted inbound frame size (1 MB)
	MaxFrameSize = 1024 * 1024
)

// Frame type tags carried in the "type" field of every envelope
const (
	TypeMessage              = "message"
	TypeTyping               = "typing"
	TypePresence             = "presence"
	TypeAIResponse           = "ai_response"
	TypeMemberJoined         = "member_joined"
	TypeMemberLeft           = "member_left"
	TypeComponentInteraction = "component_interaction"
	TypeError                = "error"

	// TypeConnectionStatus is synthesized by the connection manager and is
	// never sent by the backend.
	TypeConnectionStatus = "connection_status"
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size (1 MB)")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = errors.New("frame has no type")
)

// Frame is an inbound envelope: {type, chatId, data, sender?}
type Frame struct {
	Type   string          `json:"type"`
	ChatID string          `json:"chatId"`
	Data   json.RawMessage `json:"data,omitempty"`
	Sender string          `json:"sender,omitempty"`
}

// Outbound is an envelope sent by the client. The chat id is bound to the
// open connection and is never repeated here.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// KnownType reports whether t is one of the recognized frame tags
func KnownType(t string) bool {
	switch t {
	case TypeMessage, TypeTyping, TypePresence, TypeAIResponse,
		TypeMemberJoined, TypeMemberLeft, TypeComponentInteraction,
		TypeError, TypeConnectionStatus:
		return true
	}
	return false
}

// DecodeFrame parses one inbound text frame.
// Unknown type tags are returned as-is; consumers ignore what they don't handle.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}

	var f Frame
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}

	return f, nil
}

// DecodeData unmarshals the frame payload into v
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return fmt.Errorf("%w: %s frame has no data", ErrMalformedFrame, f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, f.Type, err)
	}
	return nil
}

// EncodeFrame serializes an inbound-style envelope. Used by test servers and
// by the manager when it synthesizes status frames.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}

// EncodeOutbound serializes an outbound envelope
func EncodeOutbound(o Outbound) ([]byte, error) {
	if o.Type == "" {
		return nil, ErrMissingType
	}
	data, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}

// NewFrame builds an inbound envelope with v marshalled as data
func NewFrame(frameType, chatID string, v any) (Frame, error) {
	f := Frame{Type: frameType, ChatID: chatID}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return Frame{}, err
		}
		f.Data = data
	}
	return f, nil
}
