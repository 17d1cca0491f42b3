package breadcrumb

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3, nil)
	for i := 0; i < 5; i++ {
		r.Add(fmt.Sprintf("action-%d", i), "test")
	}
	if got := r.Len(); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	snap := r.Snapshot()
	if snap[0].Action != "action-2" || snap[2].Action != "action-4" {
		t.Fatalf("unexpected trail: %+v", snap)
	}
}

func TestRingStampsClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	r := NewRing(10, clock)

	r.Add("first", "test")
	clock.Advance(2 * time.Minute)
	r.Add("second", "test")

	snap := r.Snapshot()
	if !snap[0].Timestamp.Equal(start) {
		t.Fatalf("first stamp = %v, want %v", snap[0].Timestamp, start)
	}
	if !snap[1].Timestamp.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("second stamp = %v", snap[1].Timestamp)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := NewRing(5, nil)
	r.Add("original", "test")
	snap := r.Snapshot()
	snap[0].Action = "mutated"
	if got := r.Snapshot()[0].Action; got != "original" {
		t.Fatalf("ring contents mutated through snapshot: %q", got)
	}
}

func TestDefaultCapacity(t *testing.T) {
	r := NewRing(0, nil)
	for i := 0; i < DefaultCapacity+10; i++ {
		r.Add("a", "test")
	}
	if got := r.Len(); got != DefaultCapacity {
		t.Fatalf("len = %d, want %d", got, DefaultCapacity)
	}
}

func TestClear(t *testing.T) {
	r := NewRing(5, nil)
	r.Add("a", "test")
	r.Clear()
	if got := r.Len(); got != 0 {
		t.Fatalf("len after clear = %d", got)
	}
}
