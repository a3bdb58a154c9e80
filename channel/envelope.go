package channel

import (
	"encoding/json"
	"fmt"
)

// Envelope is one decoded JSON object carried over the channel. The "type"
// field, when it holds a non-empty string, names the application event.
type Envelope map[string]interface{}

// NewEnvelope builds an outbound envelope. An empty typ leaves the type
// field unset.
func NewEnvelope(typ string, fields map[string]interface{}) Envelope {
	env := make(Envelope, len(fields)+1)
	for k, v := range fields {
		env[k] = v
	}
	if typ != "" {
		env["type"] = typ
	}
	return env
}

// DecodeEnvelope parses raw as a JSON object. Anything else, including
// valid JSON that is not an object, is rejected with ErrInvalidEnvelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env == nil {
		return nil, fmt.Errorf("%w: null", ErrInvalidEnvelope)
	}
	return env, nil
}

func (e Envelope) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Decode re-decodes the envelope into v, typically one of the update structs.
func (e Envelope) Decode(v interface{}) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %q envelope: %w", e.Type(), err)
	}
	return nil
}
