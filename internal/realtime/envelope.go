package realtime

import (
	"errors"

	"github.com/goccy/go-json"
)

var ErrNoEvent = errors.New("frame has no event name")

// Envelope is one websocket text frame: {"event": "...", "data": {...}}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for event with payload as its data
func Encode(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, ErrNoEvent
	}
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses a frame
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, err
	}
	if env.Event == "" {
		return env, ErrNoEvent
	}
	return env, nil
}

// Bind decodes the frame data into v
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return errors.New("frame has no data")
	}
	return json.Unmarshal(e.Data, v)
}
