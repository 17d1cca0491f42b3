package dynval

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// FromAny coerces an arbitrary Go value into the dynamic model. Scalars,
// slices and string-keyed maps map onto their natural kinds; anything else
// falls back to its fmt representation, so coercion never fails.
func FromAny(in any) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return Str(t)
	case bool:
		return Bool(t)
	case int:
		return Integer(int64(t))
	case int8:
		return Integer(int64(t))
	case int16:
		return Integer(int64(t))
	case int32:
		return Integer(int64(t))
	case int64:
		return Integer(t)
	case uint:
		return fromUint64(uint64(t))
	case uint8:
		return Integer(int64(t))
	case uint16:
		return Integer(int64(t))
	case uint32:
		return Integer(int64(t))
	case uint64:
		return fromUint64(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return Integer(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return Str(t.String())
	case time.Time:
		return Str(t.Format(time.RFC3339))
	case time.Duration:
		return Str(t.String())
	case map[string]Value:
		return Mapping(t)
	case map[string]any:
		return Mapping(FromAnyMap(t))
	case map[string]string:
		m := make(map[string]Value, len(t))
		for k, s := range t {
			m[k] = Str(s)
		}
		return Mapping(m)
	case []Value:
		return Sequence(t...)
	case []any:
		seq := make([]Value, len(t))
		for i, e := range t {
			seq[i] = FromAny(e)
		}
		return Value{kind: KindSequence, seq: seq}
	case []string:
		seq := make([]Value, len(t))
		for i, s := range t {
			seq[i] = Str(s)
		}
		return Value{kind: KindSequence, seq: seq}
	case error:
		return Str(t.Error())
	case fmt.Stringer:
		return Str(t.String())
	default:
		return Str(fmt.Sprintf("%v", t))
	}
}

func fromUint64(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Integer(int64(u))
}

// FromAnyMap coerces every entry of a plain map. A nil input yields nil.
func FromAnyMap(in map[string]any) map[string]Value {
	if in == nil {
		return nil
	}
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = FromAny(v)
	}
	return out
}
