package beacon

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"git.home.luguber.info/inful/beacon/internal/dispatch"
	"git.home.luguber.info/inful/beacon/internal/logfields"
)

// CrashSignal describes one fault captured by the host application.
type CrashSignal struct {
	Type       string // platform fault class, e.g. "panic" or "anr"
	Message    string
	StackTrace string
	IsFatal    bool
}

// CaptureException reports a fault together with the current identity,
// device context and breadcrumb trail. Delivery is asynchronous and
// best-effort; a lost report is never retried.
func (c *Client) CaptureException(sig CrashSignal) {
	if !c.crashReportingActive() {
		return
	}
	payload := c.crashPayload(sig)
	c.rec.IncCrashReport()
	c.goAsync(func(ctx context.Context) {
		if err := c.dispatcher.SendCrash(ctx, payload); err != nil {
			c.logger.Warn("crash report not delivered", logfields.Error(err))
		}
	})
}

func (c *Client) crashReportingActive() bool {
	if c == nil || !c.running() {
		return false
	}
	if !enabled(c.cfg.EnableCrashReporting) {
		return false
	}
	return !c.store.Privacy().OptedOut()
}

func (c *Client) crashPayload(sig CrashSignal) dispatch.CrashPayload {
	evCtx := c.device.Context()
	if c.sessions != nil {
		evCtx.SessionID = c.sessions.Current()
	}
	return dispatch.CrashPayload{
		DistinctID:  c.store.Identity().DistinctID(),
		CrashType:   sig.Type,
		Message:     sig.Message,
		StackTrace:  sig.StackTrace,
		IsFatal:     sig.IsFatal,
		Timestamp:   c.clock.Now().UTC().Format(time.RFC3339Nano),
		Breadcrumbs: c.crumbs.Snapshot(),
		Context:     evCtx,
	}
}

// PanicHook turns recovered panics into crash reports while preserving
// whatever fault handling the host had installed before.
type PanicHook struct {
	client   *Client
	previous func(any)
}

// NewPanicHook wires a hook to the client. previous is the handler that
// was in place before, or nil.
func NewPanicHook(client *Client, previous func(any)) *PanicHook {
	return &PanicHook{client: client, previous: previous}
}

// Recover is for deferred use at goroutine entry points:
//
//	defer beacon.NewPanicHook(client, nil).Recover()
//
// A recovered panic is reported and handed on to the previous handler;
// without one the panic resumes unchanged.
func (h *PanicHook) Recover() {
	if v := recover(); v != nil {
		h.Handle(v)
	}
}

// Handle reports the fault and always chains: the previous handler runs
// when there is one, otherwise the panic is re-raised. Because the
// process usually dies right after, the report is sent synchronously,
// bounded by the configured HTTP timeout.
func (h *PanicHook) Handle(v any) {
	if h == nil {
		panic(v)
	}
	if c := h.client; c.crashReportingActive() {
		payload := c.crashPayload(CrashSignal{
			Type:       "panic",
			Message:    fmt.Sprintf("%v", v),
			StackTrace: string(debug.Stack()),
			IsFatal:    true,
		})
		c.rec.IncCrashReport()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HTTPTimeout)
		if err := c.dispatcher.SendCrash(ctx, payload); err != nil {
			c.logger.Warn("crash report not delivered", logfields.Error(err))
		}
		cancel()
	}
	if h.previous != nil {
		h.previous(v)
		return
	}
	panic(v)
}
