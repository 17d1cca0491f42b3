package beacon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCaptureException(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f, nil)
	startClient(t, c)

	c.Track("checkout_started", nil)
	c.AddBreadcrumb("tapped pay", "ui")
	c.CaptureException(CrashSignal{
		Type:       "error",
		Message:    "payment provider unreachable",
		StackTrace: "goroutine 1 [running]: ...",
		IsFatal:    false,
	})

	require.Eventually(t, func() bool { return f.crashCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	f.mu.Lock()
	crash := f.crashes[0]
	f.mu.Unlock()

	require.Equal(t, "error", crash["crash_type"])
	require.Equal(t, "payment provider unreachable", crash["message"])
	require.Equal(t, false, crash["is_fatal"])
	require.Equal(t, c.DistinctID(), crash["distinct_id"])
	require.NotEmpty(t, crash["timestamp"])

	crumbs, ok := crash["breadcrumbs"].([]any)
	require.True(t, ok)
	require.Len(t, crumbs, 2)
	last, ok := crumbs[1].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "tapped pay", last["action"])
	require.Equal(t, "ui", last["category"])

	ctx, ok := crash["context"].(map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, ctx["session_id"])
}

func TestCaptureExceptionDisabled(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f, func(cfg *Config) {
		cfg.EnableCrashReporting = Bool(false)
	})
	startClient(t, c)

	c.CaptureException(CrashSignal{Message: "ignored"})
	require.Equal(t, 0, f.crashCount())
}

func TestCaptureExceptionOptedOut(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f, nil)
	startClient(t, c)

	c.SetOptOut(true)
	c.CaptureException(CrashSignal{Message: "ignored"})
	require.Equal(t, 0, f.crashCount())
}

func TestPanicHookChainsToPrevious(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f, nil)
	startClient(t, c)

	var got any
	hook := NewPanicHook(c, func(v any) { got = v })

	func() {
		defer hook.Recover()
		panic("kaboom")
	}()

	require.Equal(t, "kaboom", got)
	require.Equal(t, 1, f.crashCount(), "hook reports are sent synchronously")

	f.mu.Lock()
	crash := f.crashes[0]
	f.mu.Unlock()
	require.Equal(t, "panic", crash["crash_type"])
	require.Equal(t, "kaboom", crash["message"])
	require.Equal(t, true, crash["is_fatal"])
	require.NotEmpty(t, crash["stack_trace"])
}

func TestPanicHookRepanicsWithoutPrevious(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f, nil)
	startClient(t, c)

	hook := NewPanicHook(c, nil)
	require.PanicsWithValue(t, "kaboom", func() {
		defer hook.Recover()
		panic("kaboom")
	})
	require.Equal(t, 1, f.crashCount())
}

func TestPanicHookNilReceiverRepanics(t *testing.T) {
	var hook *PanicHook
	require.PanicsWithValue(t, "kaboom", func() {
		hook.Handle("kaboom")
	})
}
