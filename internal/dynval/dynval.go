// Package dynval implements the schema-less value model used for event
// properties, user traits and feature flag payloads.
//
// A Value is a closed union over the JSON-representable kinds: integer,
// float, bool, string, sequence, mapping and null. Values are immutable
// once constructed and safe to share across goroutines.
package dynval

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindBool
	KindString
	KindSequence
	KindMapping
)

// String returns a short name for the kind, for logging.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "null"
	}
}

// Value is one dynamically-typed value. The zero Value is null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	seq  []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Integer returns an integer value.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Float returns a floating-point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Sequence returns a sequence value holding the given elements.
func Sequence(elems ...Value) Value {
	return Value{kind: KindSequence, seq: elems}
}

// Mapping returns a mapping value over the given entries.
func Mapping(m map[string]Value) Value {
	return Value{kind: KindMapping, m: m}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsInt returns the integer payload. ok is false for any other kind.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInteger
}

// AsFloat returns the numeric payload as a float64. Integers convert;
// ok is false for non-numeric kinds.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInteger:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean payload. ok is false for any other kind.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsString returns the string payload. ok is false for any other kind.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsSequence returns the element slice. ok is false for any other kind.
// The slice must not be mutated.
func (v Value) AsSequence() ([]Value, bool) {
	return v.seq, v.kind == KindSequence
}

// AsMapping returns the entry map. ok is false for any other kind.
// The map must not be mutated.
func (v Value) AsMapping() (map[string]Value, bool) {
	return v.m, v.kind == KindMapping
}

// AsAny converts v back to plain Go values: int64, float64, bool, string,
// []any, map[string]any or nil.
func (v Value) AsAny() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.AsAny()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.AsAny()
		}
		return out
	default:
		return nil
	}
}

// ToAnyMap converts a mapping of values back to plain Go values.
func ToAnyMap(m map[string]Value) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.AsAny()
	}
	return out
}
