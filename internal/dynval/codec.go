package dynval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Decode parses a single JSON value. Numbers without a fractional or
// exponent part decode as integers, all other numbers as floats. Malformed
// input is the only error path.
func Decode(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("decode dynamic value: empty input")
	}
	switch trimmed[0] {
	case '{':
		var m map[string]Value
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return fmt.Errorf("decode mapping: %w", err)
		}
		*v = Value{kind: KindMapping, m: m}
	case '[':
		var seq []Value
		if err := json.Unmarshal(trimmed, &seq); err != nil {
			return fmt.Errorf("decode sequence: %w", err)
		}
		*v = Value{kind: KindSequence, seq: seq}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*v = Str(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return fmt.Errorf("decode bool: %w", err)
		}
		*v = Bool(b)
	case 'n':
		if !bytes.Equal(trimmed, []byte("null")) {
			return fmt.Errorf("decode dynamic value: invalid literal %q", trimmed)
		}
		*v = Null()
	default:
		// Integer interpretation wins over float for whole numbers.
		if i, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
			*v = Integer(i)
			return nil
		}
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return fmt.Errorf("decode number %q: %w", trimmed, err)
		}
		*v = Float(f)
	}
	return nil
}

// MarshalJSON implements json.Marshaler. Mapping keys are emitted in
// sorted order, so the output is canonical for a given value. Non-finite
// floats encode as null rather than failing.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindString:
		return json.Marshal(v.s)
	case KindSequence:
		if v.seq == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.seq)
	case KindMapping:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return []byte("null"), nil
	}
}

// String returns the canonical JSON text of v.
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(b)
}

// Equal reports whether two values have the same canonical JSON text.
// This is deliberately representation-based: Integer(1) equals Float(1)
// because both encode as "1", while Str("1") does not.
func (v Value) Equal(other Value) bool {
	return v.String() == other.String()
}
