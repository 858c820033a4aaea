package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// TypeCustom marks an application event on the push channel.
	TypeCustom = "custom"
	// EventCommand carries a validated control command.
	EventCommand = "openclaw-command"
)

var (
	ErrNotCustom  = errors.New("frame is not a custom event")
	ErrEmptyEvent = errors.New("frame has no event name")
)

// Envelope is one push-channel frame.
type Envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in a custom event frame.
func Encode(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Type: TypeCustom, Event: event, Data: data})
}

// Decode unwraps a custom event frame and returns its event name and raw data.
func Decode(frame []byte) (string, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type != TypeCustom {
		return "", nil, fmt.Errorf("%w: %q", ErrNotCustom, env.Type)
	}
	if env.Event == "" {
		return "", nil, ErrEmptyEvent
	}
	return env.Event, env.Data, nil
}
