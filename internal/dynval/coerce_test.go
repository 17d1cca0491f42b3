package dynval

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestFromAnyScalars(t *testing.T) {
	if got := FromAny(nil); !got.IsNull() {
		t.Fatalf("nil coerced to %s, want null", got)
	}
	if got := FromAny("text"); got.Kind() != KindString {
		t.Fatalf("string coerced to %v", got.Kind())
	}
	if got := FromAny(true); got.Kind() != KindBool {
		t.Fatalf("bool coerced to %v", got.Kind())
	}
	for _, in := range []any{int(1), int8(1), int16(1), int32(1), int64(1), uint(1), uint8(1), uint16(1), uint32(1), uint64(1)} {
		got := FromAny(in)
		if got.Kind() != KindInteger {
			t.Fatalf("%T coerced to %v, want integer", in, got.Kind())
		}
		if i, _ := got.AsInt(); i != 1 {
			t.Fatalf("%T coerced to %d, want 1", in, i)
		}
	}
	for _, in := range []any{float32(2.5), float64(2.5)} {
		got := FromAny(in)
		if got.Kind() != KindFloat {
			t.Fatalf("%T coerced to %v, want float", in, got.Kind())
		}
	}
}

func TestFromAnyUint64Overflow(t *testing.T) {
	got := FromAny(uint64(math.MaxUint64))
	if got.Kind() != KindFloat {
		t.Fatalf("max uint64 coerced to %v, want float", got.Kind())
	}
}

func TestFromAnyContainers(t *testing.T) {
	got := FromAny(map[string]any{"a": 1, "b": []any{"x", 2}})
	m, ok := got.AsMapping()
	if !ok {
		t.Fatalf("map coerced to %v", got.Kind())
	}
	if m["a"].Kind() != KindInteger {
		t.Fatalf("nested int coerced to %v", m["a"].Kind())
	}
	seq, ok := m["b"].AsSequence()
	if !ok || len(seq) != 2 {
		t.Fatalf("nested slice coerced to %s", m["b"])
	}

	got = FromAny([]string{"a", "b"})
	if seq, _ := got.AsSequence(); len(seq) != 2 {
		t.Fatalf("string slice coerced to %s", got)
	}
	got = FromAny(map[string]string{"k": "v"})
	if m, _ := got.AsMapping(); m["k"].String() != `"v"` {
		t.Fatalf("string map coerced to %s", got)
	}
}

func TestFromAnySpecialTypes(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if got, _ := FromAny(ts).AsString(); got != "2025-06-01T12:00:00Z" {
		t.Fatalf("time coerced to %q", got)
	}
	if got, _ := FromAny(90 * time.Second).AsString(); got != "1m30s" {
		t.Fatalf("duration coerced to %q", got)
	}
	if got, _ := FromAny(json.Number("7")).AsInt(); got != 7 {
		t.Fatalf("json.Number coerced to %d", got)
	}
	if FromAny(json.Number("7.5")).Kind() != KindFloat {
		t.Fatal("fractional json.Number did not coerce to float")
	}
	if got, _ := FromAny(errors.New("boom")).AsString(); got != "boom" {
		t.Fatalf("error coerced to %q", got)
	}
}

func TestFromAnyFallback(t *testing.T) {
	type opaque struct{ A int }
	got := FromAny(opaque{A: 3})
	if got.Kind() != KindString {
		t.Fatalf("struct coerced to %v, want string fallback", got.Kind())
	}
	got = FromAny(make(chan int))
	if got.Kind() != KindString {
		t.Fatalf("chan coerced to %v, want string fallback", got.Kind())
	}
}

func TestFromAnyMapRoundTrip(t *testing.T) {
	in := map[string]any{"n": 1, "s": "x", "nested": map[string]any{"f": 1.5}}
	coerced := FromAnyMap(in)
	back := ToAnyMap(coerced)
	if back["n"] != int64(1) {
		t.Fatalf("n round-tripped to %v (%T)", back["n"], back["n"])
	}
	nested, ok := back["nested"].(map[string]any)
	if !ok || nested["f"] != 1.5 {
		t.Fatalf("nested round-tripped to %v", back["nested"])
	}
	if FromAnyMap(nil) != nil {
		t.Fatal("nil map should stay nil")
	}
}
