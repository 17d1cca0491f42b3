// Package diag defines the internal diagnostics hooks of the pipeline.
package diag

import "time"

// ResultLabel enumerates delivery result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailure ResultLabel = "failure"
)

// DropReason enumerates why queued events were discarded.
type DropReason string

const (
	DropOverflow DropReason = "overflow"
	DropOptOut   DropReason = "opt_out"
	DropReset    DropReason = "reset"
)

// Recorder defines observability hooks for the event pipeline. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe for nil receivers
// when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	IncEnqueued()
	IncDropped(reason DropReason, n int)
	IncBatch(result ResultLabel)
	ObserveFlushDuration(d time.Duration)
	SetQueueDepth(n int)
	IncSessionStarted()
	IncFlagRefresh(result ResultLabel)
	IncCrashReport()
}

// NoopRecorder is a Recorder that does nothing (default when diagnostics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncEnqueued()                       {}
func (NoopRecorder) IncDropped(DropReason, int)         {}
func (NoopRecorder) IncBatch(ResultLabel)               {}
func (NoopRecorder) ObserveFlushDuration(time.Duration) {}
func (NoopRecorder) SetQueueDepth(int)                  {}
func (NoopRecorder) IncSessionStarted()                 {}
func (NoopRecorder) IncFlagRefresh(ResultLabel)         {}
func (NoopRecorder) IncCrashReport()                    {}
