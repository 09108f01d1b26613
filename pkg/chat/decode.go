package chat

import (
	"encoding/json"
	"strings"
)

// Envelope is the outer notification wrapper carried in a transport record.
// Message holds the JSON-encoded Event.
type Envelope struct {
	Message string `json:"Message"`
}

// Decode unwraps a transport record body into a validated Event.
func Decode(body []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Event{}, WrapError(ErrorInvalidEnvelope, "record body", err)
	}
	if strings.TrimSpace(envelope.Message) == "" {
		return Event{}, NewError(ErrorInvalidEnvelope, "Message is empty")
	}

	var event Event
	if err := json.Unmarshal([]byte(envelope.Message), &event); err != nil {
		return Event{}, WrapError(ErrorInvalidJSON, "Message", err)
	}
	if err := validate.Struct(event); err != nil {
		return Event{}, WrapError(ErrorMissingField, "event", err)
	}

	return event, nil
}

// Encode wraps an event the way producers publish it.
func Encode(event Event) ([]byte, error) {
	inner, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{Message: string(inner)})
}
