package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/beacon/internal/diag"
	"git.home.luguber.info/inful/beacon/internal/event"
	"git.home.luguber.info/inful/beacon/internal/logfields"
	"git.home.luguber.info/inful/beacon/internal/retry"
)

// DefaultContinuationDelay paces successive batches within one flush pass.
const DefaultContinuationDelay = 500 * time.Millisecond

// Sender delivers one serialized batch. A nil error means the whole batch
// was accepted; any error means nothing may be removed from the queue.
type Sender interface {
	SendBatch(ctx context.Context, payloads [][]byte) error
}

// Options configures a Queue. Storage and Sender are required; everything
// else has a usable default.
type Options struct {
	Storage           *Storage
	Sender            Sender
	Gate              *retry.Gate
	Recorder          diag.Recorder
	Logger            *slog.Logger
	Clock             clockwork.Clock
	MaxBatchSize      int
	MaxQueueSize      int
	ContinuationDelay time.Duration
}

// Queue drives delivery of durably buffered events. At most one flush pass
// runs at a time; triggers arriving while one is in flight are no-ops.
type Queue struct {
	storage  *Storage
	sender   Sender
	gate     *retry.Gate
	rec      diag.Recorder
	logger   *slog.Logger
	clock    clockwork.Clock
	maxBatch int
	maxQueue int
	pause    time.Duration

	flushing atomic.Bool
}

// New assembles a queue from options, applying defaults for the optional
// fields.
func New(opts Options) *Queue {
	q := &Queue{
		storage:  opts.Storage,
		sender:   opts.Sender,
		gate:     opts.Gate,
		rec:      opts.Recorder,
		logger:   opts.Logger,
		clock:    opts.Clock,
		maxBatch: opts.MaxBatchSize,
		maxQueue: opts.MaxQueueSize,
		pause:    opts.ContinuationDelay,
	}
	if q.gate == nil {
		q.gate = retry.NewGate(retry.DefaultPolicy(), opts.Clock)
	}
	if q.rec == nil {
		q.rec = diag.NoopRecorder{}
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.clock == nil {
		q.clock = clockwork.NewRealClock()
	}
	if q.maxBatch <= 0 {
		q.maxBatch = 50
	}
	if q.maxQueue <= 0 {
		q.maxQueue = 1000
	}
	if q.pause <= 0 {
		q.pause = DefaultContinuationDelay
	}
	return q
}

// Enqueue serializes the event and appends it to the durable queue,
// evicting the oldest events past capacity. It reports whether the queue
// has reached the batch threshold and a flush should be triggered.
func (q *Queue) Enqueue(ctx context.Context, ev event.Event) (bool, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}
	if err := q.storage.Insert(ctx, ev.UUID, payload); err != nil {
		return false, err
	}
	q.rec.IncEnqueued()

	evicted, err := q.storage.TrimToCapacity(ctx, q.maxQueue)
	if err != nil {
		return false, err
	}
	if evicted > 0 {
		q.rec.IncDropped(diag.DropOverflow, evicted)
		q.logger.Warn("queue full, evicted oldest events",
			logfields.Count(evicted), logfields.QueueSize(q.maxQueue))
	}

	size, err := q.storage.Size(ctx)
	if err != nil {
		return false, err
	}
	q.rec.SetQueueDepth(size)
	return size >= q.maxBatch, nil
}

// Flush delivers queued events now, ignoring the backoff gate. Used for
// explicit caller-requested flushes and shutdown.
func (q *Queue) Flush(ctx context.Context) {
	q.flush(ctx, "manual", false)
}

// AutoFlush delivers queued events unless the backoff gate is still closed
// after a recent delivery failure. Timer, threshold and lifecycle triggers
// all come through here.
func (q *Queue) AutoFlush(ctx context.Context, reason string) {
	q.flush(ctx, reason, true)
}

func (q *Queue) flush(ctx context.Context, reason string, gated bool) {
	if gated && !q.gate.Allow() {
		q.logger.Debug("flush deferred by backoff",
			logfields.Reason(reason), logfields.Attempt(q.gate.Failures()))
		return
	}
	if !q.flushing.CompareAndSwap(false, true) {
		return // a delivery pass is already in flight
	}
	defer q.flushing.Store(false)

	start := q.clock.Now()
	defer func() {
		q.rec.ObserveFlushDuration(q.clock.Since(start))
	}()

	for {
		rows, err := q.storage.Peek(ctx, q.maxBatch)
		if err != nil {
			q.logger.Error("flush aborted reading queue", logfields.Error(err))
			return
		}
		if len(rows) == 0 {
			return
		}

		payloads := make([][]byte, len(rows))
		ids := make([]int64, len(rows))
		for i, r := range rows {
			payloads[i] = r.Payload
			ids[i] = r.ID
		}

		if err := q.sender.SendBatch(ctx, payloads); err != nil {
			q.gate.Failure()
			q.rec.IncBatch(diag.ResultFailure)
			q.logger.Warn("batch delivery failed, events stay queued",
				logfields.Reason(reason),
				logfields.BatchSize(len(rows)),
				logfields.Attempt(q.gate.Failures()),
				logfields.Error(err))
			return
		}
		q.gate.Success()
		q.rec.IncBatch(diag.ResultSuccess)

		// Remove exactly the delivered rows. Events enqueued or evicted
		// during the send are untouched.
		if err := q.storage.DeleteRows(ctx, ids); err != nil {
			q.logger.Error("delivered batch not removed, events will be redelivered",
				logfields.Error(err))
			return
		}

		size, err := q.storage.Size(ctx)
		if err != nil {
			q.logger.Error("flush aborted reading queue size", logfields.Error(err))
			return
		}
		q.rec.SetQueueDepth(size)
		q.logger.Debug("batch delivered",
			logfields.BatchSize(len(rows)), logfields.QueueSize(size))
		if size == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-q.clock.After(q.pause):
		}
	}
}

// Purge drops every queued event, used when the user opts out or resets.
func (q *Queue) Purge(ctx context.Context, reason diag.DropReason) error {
	n, err := q.storage.Clear(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		q.rec.IncDropped(reason, n)
		q.logger.Info("purged queued events",
			logfields.Count(n), logfields.Reason(string(reason)))
	}
	q.rec.SetQueueDepth(0)
	return nil
}

// Checkpoint flushes the WAL so the on-disk file is complete.
func (q *Queue) Checkpoint(ctx context.Context) error {
	return q.storage.Checkpoint(ctx)
}

// Size returns the number of queued events.
func (q *Queue) Size(ctx context.Context) (int, error) {
	return q.storage.Size(ctx)
}

// Close closes the underlying storage.
func (q *Queue) Close() error {
	return q.storage.Close()
}
