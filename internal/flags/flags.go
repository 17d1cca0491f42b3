// Package flags models feature flag values as delivered by the decide
// endpoint: either a plain boolean or a detail object carrying an enabled
// bit plus an optional payload.
package flags

import (
	"encoding/json"

	"git.home.luguber.info/inful/beacon/internal/dynval"
)

// Value is one feature flag. The zero value is disabled with no payload.
type Value struct {
	enabled bool
	payload map[string]dynval.Value
}

// Bool returns a payload-less flag value.
func Bool(enabled bool) Value { return Value{enabled: enabled} }

// Detail returns a flag value with an attached payload.
func Detail(enabled bool, payload map[string]dynval.Value) Value {
	return Value{enabled: enabled, payload: payload}
}

// Enabled reports whether the flag is on.
func (v Value) Enabled() bool { return v.enabled }

// Payload returns the attached payload, or nil when the flag has none.
// The map must not be mutated.
func (v Value) Payload() map[string]dynval.Value { return v.payload }

// UnmarshalJSON decodes a flag value. A JSON boolean is tried first, then
// the detail object shape. Anything else decodes as a disabled flag; this
// method never returns an error so one malformed flag cannot poison a
// whole decide response.
func (v *Value) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Bool(b)
		return nil
	}
	var detail struct {
		Enabled bool                    `json:"enabled"`
		Payload map[string]dynval.Value `json:"payload"`
	}
	if err := json.Unmarshal(data, &detail); err == nil {
		*v = Detail(detail.Enabled, detail.Payload)
		return nil
	}
	*v = Value{}
	return nil
}

// MarshalJSON encodes payload-less flags as a plain boolean and everything
// else as the detail object, so stored flags decode back to the same value.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.payload) == 0 {
		return json.Marshal(v.enabled)
	}
	return json.Marshal(struct {
		Enabled bool                    `json:"enabled"`
		Payload map[string]dynval.Value `json:"payload"`
	}{Enabled: v.enabled, Payload: v.payload})
}
