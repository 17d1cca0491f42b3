package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"git.home.luguber.info/inful/beacon/internal/diag"
	"git.home.luguber.info/inful/beacon/internal/event"
)

// scriptedSender records batches and pops one scripted result per call.
// An empty script means every call succeeds.
type scriptedSender struct {
	mu      sync.Mutex
	calls   [][][]byte
	results []error
	entered chan struct{}
	release chan struct{}
}

func (s *scriptedSender) SendBatch(_ context.Context, payloads [][]byte) error {
	s.mu.Lock()
	cp := make([][]byte, len(payloads))
	copy(cp, payloads)
	s.calls = append(s.calls, cp)
	var res error
	if len(s.results) > 0 {
		res = s.results[0]
		s.results = s.results[1:]
	}
	entered := s.entered
	release := s.release
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return res
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedSender) batchNames(t *testing.T, i int) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.calls) {
		t.Fatalf("no batch %d, only %d calls", i, len(s.calls))
	}
	var names []string
	for _, payload := range s.calls[i] {
		var ev struct {
			Name string `json:"event"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		names = append(names, ev.Name)
	}
	return names
}

func newTestQueue(t *testing.T, sender Sender, maxBatch, maxQueue int) *Queue {
	t.Helper()
	storage, err := OpenStorage(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return New(Options{
		Storage:           storage,
		Sender:            sender,
		MaxBatchSize:      maxBatch,
		MaxQueueSize:      maxQueue,
		ContinuationDelay: time.Millisecond,
	})
}

func enqueueN(t *testing.T, q *Queue, n int) {
	t.Helper()
	for i := range n {
		ev := event.New(fmt.Sprintf("event-%d", i), "user", nil, event.Context{}, time.Now())
		if _, err := q.Enqueue(t.Context(), ev); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
}

func TestEnqueueReportsThreshold(t *testing.T) {
	q := newTestQueue(t, &scriptedSender{}, 3, 100)
	ctx := t.Context()

	for i := range 2 {
		ev := event.New(fmt.Sprintf("event-%d", i), "user", nil, event.Context{}, time.Now())
		trigger, err := q.Enqueue(ctx, ev)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if trigger {
			t.Fatalf("threshold reported at %d events", i+1)
		}
	}
	trigger, err := q.Enqueue(ctx, event.New("event-2", "user", nil, event.Context{}, time.Now()))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !trigger {
		t.Fatal("threshold not reported at batch size")
	}
}

func TestEnqueueEvictsOldestPastCapacity(t *testing.T) {
	sender := &scriptedSender{}
	q := newTestQueue(t, sender, 50, 3)
	enqueueN(t, q, 5)

	size, err := q.Size(t.Context())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 3 {
		t.Fatalf("size = %d, want 3", size)
	}

	q.Flush(t.Context())
	got := sender.batchNames(t, 0)
	want := []string{"event-2", "event-3", "event-4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch = %v, want %v", got, want)
		}
	}
}

func TestFlushDrainsInBatches(t *testing.T) {
	sender := &scriptedSender{}
	q := newTestQueue(t, sender, 3, 100)
	enqueueN(t, q, 7)

	q.Flush(t.Context())

	if got := sender.callCount(); got != 3 {
		t.Fatalf("batches sent = %d, want 3", got)
	}
	for i, wantLen := range []int{3, 3, 1} {
		if got := len(sender.batchNames(t, i)); got != wantLen {
			t.Fatalf("batch %d size = %d, want %d", i, got, wantLen)
		}
	}
	size, err := q.Size(t.Context())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 0 {
		t.Fatalf("size after drain = %d", size)
	}
}

func TestFlushFailureKeepsEventsAndClosesGate(t *testing.T) {
	sender := &scriptedSender{results: []error{fmt.Errorf("boom")}}
	q := newTestQueue(t, sender, 10, 100)
	enqueueN(t, q, 4)

	q.AutoFlush(t.Context(), "interval")
	if got := sender.callCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	size, err := q.Size(t.Context())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 4 {
		t.Fatalf("failed delivery dropped events, size = %d", size)
	}

	// The gate is closed; another automatic trigger is a no-op.
	q.AutoFlush(t.Context(), "interval")
	if got := sender.callCount(); got != 1 {
		t.Fatalf("gated flush still sent, calls = %d", got)
	}

	// A manual flush bypasses the gate and succeeds.
	q.Flush(t.Context())
	if got := sender.callCount(); got != 2 {
		t.Fatalf("manual flush did not run, calls = %d", got)
	}
	size, err = q.Size(t.Context())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 0 {
		t.Fatalf("size after manual flush = %d", size)
	}
}

func TestFlushSingleFlight(t *testing.T) {
	sender := &scriptedSender{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	q := newTestQueue(t, sender, 10, 100)
	enqueueN(t, q, 2)

	done := make(chan struct{})
	go func() {
		q.Flush(context.Background())
		close(done)
	}()
	<-sender.entered

	// A second trigger while the send is in flight is a no-op.
	q.Flush(context.Background())
	q.AutoFlush(context.Background(), "threshold")
	if got := sender.callCount(); got != 1 {
		t.Fatalf("concurrent flush started a second delivery, calls = %d", got)
	}

	close(sender.release)
	<-done
}

func TestEventsEnqueuedDuringSendSurvive(t *testing.T) {
	sender := &scriptedSender{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
		results: []error{nil, fmt.Errorf("second batch fails")},
	}
	q := newTestQueue(t, sender, 10, 100)
	enqueueN(t, q, 3)

	done := make(chan struct{})
	go func() {
		q.Flush(context.Background())
		close(done)
	}()
	<-sender.entered

	// Arrives while the first batch is on the wire.
	late := event.New("late-event", "user", nil, event.Context{}, time.Now())
	if _, err := q.Enqueue(context.Background(), late); err != nil {
		t.Fatalf("enqueue during send: %v", err)
	}

	sender.release <- struct{}{} // finish first batch
	<-sender.entered             // second batch picked up the late event
	sender.release <- struct{}{} // fail it
	<-done

	size, err := q.Size(context.Background())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1 {
		t.Fatalf("size = %d, want the late event to survive", size)
	}
	if got := sender.batchNames(t, 1); len(got) != 1 || got[0] != "late-event" {
		t.Fatalf("second batch = %v", got)
	}
}

func TestPurge(t *testing.T) {
	sender := &scriptedSender{}
	q := newTestQueue(t, sender, 10, 100)
	enqueueN(t, q, 3)

	if err := q.Purge(t.Context(), diag.DropOptOut); err != nil {
		t.Fatalf("purge: %v", err)
	}
	size, err := q.Size(t.Context())
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 0 {
		t.Fatalf("size after purge = %d", size)
	}

	q.Flush(t.Context())
	if got := sender.callCount(); got != 0 {
		t.Fatalf("flush after purge sent %d batches", got)
	}
}
