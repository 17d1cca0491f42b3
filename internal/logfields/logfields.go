package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyEvent      = "event"
	KeyDistinctID = "distinct_id"
	KeySessionID  = "session_id"
	KeyEndpoint   = "endpoint"
	KeyCount      = "count"
	KeyQueueSize  = "queue_size"
	KeyBatchSize  = "batch_size"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyReason     = "reason"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Event(name string) slog.Attr     { return slog.String(KeyEvent, name) }
func DistinctID(id string) slog.Attr  { return slog.String(KeyDistinctID, id) }
func SessionID(id string) slog.Attr   { return slog.String(KeySessionID, id) }
func Endpoint(e string) slog.Attr     { return slog.String(KeyEndpoint, e) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func QueueSize(n int) slog.Attr       { return slog.Int(KeyQueueSize, n) }
func BatchSize(n int) slog.Attr       { return slog.Int(KeyBatchSize, n) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Reason(r string) slog.Attr       { return slog.String(KeyReason, r) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
