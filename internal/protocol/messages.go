package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrMalformedMessage is returned for frames that are not valid JSON or
	// whose payload does not match the expected shape.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownMessage is returned for envelopes naming a variant this
	// side does not know.
	ErrUnknownMessage = errors.New("unknown message kind")
)

// Envelope tags.
const (
	tagAcknowledgeChange = "AcknowledgeChange"
	tagCommon            = "Common"
	tagChange            = "Change"
)

// CommonMessage is a payload both sides may send. Change is the only variant.
type CommonMessage interface {
	commonMessage()
}

func (Change) commonMessage() {}

// ClientMessage is sent from a bridge to the relay.
type ClientMessage interface {
	clientMessage()
}

// AcknowledgeChange is reserved: it decodes but the relay does not act on it.
type AcknowledgeChange struct {
	ID uuid.UUID
}

// ClientCommon wraps a CommonMessage sent by a bridge.
type ClientCommon struct {
	Message CommonMessage
}

func (AcknowledgeChange) clientMessage() {}
func (ClientCommon) clientMessage()      {}

// ServerMessage is sent from the relay to a bridge.
type ServerMessage interface {
	serverMessage()
}

// ServerCommon wraps a CommonMessage broadcast by the relay.
type ServerCommon struct {
	Message CommonMessage
}

func (ServerCommon) serverMessage() {}

// EncodeClient serializes a bridge message.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case AcknowledgeChange:
		return json.Marshal(map[string]uuid.UUID{tagAcknowledgeChange: m.ID})
	case ClientCommon:
		inner, err := encodeCommon(m.Message)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{tagCommon: inner})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// EncodeServer serializes a relay message.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case ServerCommon:
		inner, err := encodeCommon(m.Message)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{tagCommon: inner})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// DecodeClient parses a frame received by the relay.
func DecodeClient(data []byte) (ClientMessage, error) {
	tag, payload, err := splitEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagAcknowledgeChange:
		var id uuid.UUID
		if err := json.Unmarshal(payload, &id); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, tag, err)
		}
		return AcknowledgeChange{ID: id}, nil
	case tagCommon:
		common, err := decodeCommon(payload)
		if err != nil {
			return nil, err
		}
		return ClientCommon{Message: common}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
	}
}

// DecodeServer parses a frame received by a bridge.
func DecodeServer(data []byte) (ServerMessage, error) {
	tag, payload, err := splitEnvelope(data)
	if err != nil {
		return nil, err
	}
	if tag != tagCommon {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
	}
	common, err := decodeCommon(payload)
	if err != nil {
		return nil, err
	}
	return ServerCommon{Message: common}, nil
}

func encodeCommon(msg CommonMessage) (json.RawMessage, error) {
	switch m := msg.(type) {
	case Change:
		return json.Marshal(map[string]Change{tagChange: m})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func decodeCommon(data json.RawMessage) (CommonMessage, error) {
	tag, payload, err := splitEnvelope(data)
	if err != nil {
		return nil, err
	}
	if tag != tagChange {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, tag)
	}
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("%w: change: %v", ErrMalformedMessage, err)
	}
	if c.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: change without id", ErrMalformedMessage)
	}
	if c.Change.TextDocument.URI == "" {
		return nil, fmt.Errorf("%w: change without document uri", ErrMalformedMessage)
	}
	return c, nil
}

// splitEnvelope accepts exactly one {"Tag": payload} pair.
func splitEnvelope(data []byte) (tag string, payload json.RawMessage, err error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(env) != 1 {
		return "", nil, fmt.Errorf("%w: envelope has %d tags", ErrMalformedMessage, len(env))
	}
	for k, v := range env {
		tag, payload = k, v
	}
	return tag, payload, nil
}
