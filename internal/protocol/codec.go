package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks a frame or payload that cannot be interpreted.
	ErrMalformed = errors.New("malformed payload")

	// ErrUnknownEvent marks a well-formed frame naming an event the relay
	// does not accept.
	ErrUnknownEvent = errors.New("unknown event")
)

// Envelope is the frame carried by every WebSocket text message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// validator is implemented by payloads with required fields.
type validator interface {
	Validate() error
}

// Decode parses a client frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	if !IsInbound(env.Event) {
		return env, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v and validates it
// when v declares required fields.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
		}
	}
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Encode builds a server frame.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// DropReason classifies a decode error for logs and metrics.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}
