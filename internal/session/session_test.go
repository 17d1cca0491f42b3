package session

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/beacon/internal/dynval"
	"git.home.luguber.info/inful/beacon/internal/event"
	"git.home.luguber.info/inful/beacon/internal/statestore"
)

type sinkCall struct {
	name      string
	sessionID string
	props     map[string]dynval.Value
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (r *recordingSink) fn(name, sessionID string, props map[string]dynval.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sinkCall{name: name, sessionID: sessionID, props: props})
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.name
	}
	return out
}

func (r *recordingSink) call(i int) sinkCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *recordingSink, *clockwork.FakeClock, *statestore.Store) {
	t.Helper()
	store := statestore.NewMemory()
	sink := &recordingSink{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	m := NewManager(Options{
		Timeout: timeout,
		Store:   store.Session(),
		Sink:    sink.fn,
		Clock:   clock,
	})
	return m, sink, clock, store
}

func TestCurrentStartsSession(t *testing.T) {
	m, sink, _, _ := newTestManager(t, 30*time.Minute)

	id := m.Current()
	if id == "" {
		t.Fatal("empty session id")
	}
	if got := sink.names(); len(got) != 1 || got[0] != event.NameSessionStart {
		t.Fatalf("emissions = %v", got)
	}
	if sink.call(0).sessionID != id {
		t.Fatalf("start emission carries %q, want %q", sink.call(0).sessionID, id)
	}

	// A second read within the window reuses the session quietly.
	if again := m.Current(); again != id {
		t.Fatalf("id changed within window: %q -> %q", id, again)
	}
	if sink.count() != 1 {
		t.Fatalf("unexpected emissions: %v", sink.names())
	}
}

func TestReadsExtendSession(t *testing.T) {
	m, sink, clock, _ := newTestManager(t, 30*time.Minute)

	id := m.Current()
	// Each read lands inside the window and pushes it forward, so the
	// session outlives several timeouts put together.
	for range 4 {
		clock.Advance(20 * time.Minute)
		if got := m.Current(); got != id {
			t.Fatalf("session rotated despite steady activity")
		}
	}
	if sink.count() != 1 {
		t.Fatalf("emissions = %v", sink.names())
	}
}

func TestRotateAfterTimeout(t *testing.T) {
	m, sink, clock, _ := newTestManager(t, 30*time.Minute)

	first := m.Current()
	clock.Advance(31 * time.Minute)
	second := m.Current()

	if second == first {
		t.Fatal("session not rotated after timeout")
	}
	want := []string{event.NameSessionStart, event.NameSessionEnd, event.NameSessionStart}
	if got := sink.names(); len(got) != 3 || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("emissions = %v, want %v", got, want)
	}

	end := sink.call(1)
	if end.sessionID != first {
		t.Fatalf("end emission for %q, want %q", end.sessionID, first)
	}
	if d, ok := end.props[event.PropSessionDuration].AsInt(); !ok || d < 0 {
		t.Fatalf("duration prop = %v", end.props[event.PropSessionDuration])
	}
}

func TestSessionEndDuration(t *testing.T) {
	m, sink, clock, _ := newTestManager(t, 30*time.Minute)

	m.Current()
	clock.Advance(10 * time.Minute)
	m.Current() // activity at +10m
	clock.Advance(40 * time.Minute)
	m.Current() // rotates; old session lasted 10 minutes

	end := sink.call(1)
	if d, _ := end.props[event.PropSessionDuration].AsInt(); d != 600 {
		t.Fatalf("duration = %d, want 600", d)
	}
}

func TestBackgroundForegroundWithinTimeout(t *testing.T) {
	m, sink, clock, _ := newTestManager(t, 30*time.Minute)

	id := m.Current()
	m.OnBackground()
	clock.Advance(10 * time.Minute)

	if rotated := m.OnForeground(); rotated {
		t.Fatal("rotated within timeout")
	}
	if got := m.Current(); got != id {
		t.Fatalf("session changed across short background: %q -> %q", id, got)
	}
	if sink.count() != 1 {
		t.Fatalf("emissions = %v", sink.names())
	}
}

func TestForegroundAfterLongBackgroundRotates(t *testing.T) {
	m, sink, clock, _ := newTestManager(t, 30*time.Minute)

	first := m.Current()
	m.OnBackground()
	clock.Advance(45 * time.Minute)

	if rotated := m.OnForeground(); !rotated {
		t.Fatal("expected rotation after long background")
	}
	if got := m.Current(); got == first {
		t.Fatal("old session survived long background")
	}
	if got := sink.names(); len(got) != 3 || got[1] != event.NameSessionEnd {
		t.Fatalf("emissions = %v", got)
	}
}

func TestEnd(t *testing.T) {
	m, sink, _, store := newTestManager(t, 30*time.Minute)

	id := m.Current()
	m.End()

	if got := sink.names(); len(got) != 2 || got[1] != event.NameSessionEnd {
		t.Fatalf("emissions = %v", got)
	}
	if sink.call(1).sessionID != id {
		t.Fatalf("end emission for %q, want %q", sink.call(1).sessionID, id)
	}
	if _, ok := store.Session().Marker(); ok {
		t.Fatal("marker survived End")
	}

	// Ending twice is a no-op.
	m.End()
	if sink.count() != 2 {
		t.Fatalf("double end emitted again: %v", sink.names())
	}
}

func TestDropIsSilent(t *testing.T) {
	m, sink, _, store := newTestManager(t, 30*time.Minute)

	old := m.Current()
	m.Drop()

	if sink.count() != 1 {
		t.Fatalf("drop emitted events: %v", sink.names())
	}
	if _, ok := store.Session().Marker(); ok {
		t.Fatal("marker survived Drop")
	}

	// The next activity starts a fresh session.
	next := m.Current()
	if next == old {
		t.Fatal("session id survived Drop")
	}
	if got := sink.names(); len(got) != 2 || got[1] != event.NameSessionStart {
		t.Fatalf("emissions = %v", got)
	}
}

func TestResumeFromPersistedMarker(t *testing.T) {
	store := statestore.NewMemory()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	sink := &recordingSink{}

	m := NewManager(Options{Timeout: 30 * time.Minute, Store: store.Session(), Sink: sink.fn, Clock: clock})
	id := m.Current()

	// Simulated restart: a fresh manager over the same store, shortly after.
	clock.Advance(5 * time.Minute)
	sink2 := &recordingSink{}
	m2 := NewManager(Options{Timeout: 30 * time.Minute, Store: store.Session(), Sink: sink2.fn, Clock: clock})
	if got := m2.Current(); got != id {
		t.Fatalf("fast restart did not resume: %q -> %q", id, got)
	}
	if sink2.count() != 0 {
		t.Fatalf("resume emitted %v", sink2.names())
	}
}

func TestStaleMarkerRotatesOnActivity(t *testing.T) {
	store := statestore.NewMemory()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))

	first := NewManager(Options{Timeout: 30 * time.Minute, Store: store.Session(), Sink: nil, Clock: clock})
	oldID := first.Current()

	clock.Advance(2 * time.Hour)
	sink := &recordingSink{}
	m := NewManager(Options{Timeout: 30 * time.Minute, Store: store.Session(), Sink: sink.fn, Clock: clock})
	newID := m.Current()

	if newID == oldID {
		t.Fatal("stale session resumed")
	}
	// The stale session still gets its end event, carrying the old id.
	if got := sink.names(); len(got) != 2 || got[0] != event.NameSessionEnd {
		t.Fatalf("emissions = %v", got)
	}
	if sink.call(0).sessionID != oldID {
		t.Fatalf("end emission for %q, want %q", sink.call(0).sessionID, oldID)
	}
}
