package beacon

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/beacon/internal/event"
)

// flushUntil re-triggers manual flushes while polling, since a trigger
// landing while another delivery pass is in flight is deliberately a
// no-op.
func flushUntil(t *testing.T, c *Client, f *fakeIngest, n int) []capturedEvent {
	t.Helper()
	var evs []capturedEvent
	require.Eventually(t, func() bool {
		c.Flush()
		evs = f.allEvents()
		return len(evs) >= n
	}, 3*time.Second, 25*time.Millisecond)
	return evs
}

func TestForegroundBackgroundCycle(t *testing.T) {
	f := newFakeIngest(t)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	c := newTestClientWithClock(t, f, clock, func(cfg *Config) {
		cfg.CaptureLifecycleEvents = Bool(true)
		cfg.Device.AppVersion = "" // keep install detection quiet
	})
	startClient(t, c)

	// Cold start.
	c.OnForeground()
	evs := flushUntil(t, c, f, 2)
	require.Equal(t, event.NameSessionStart, evs[0].Name)
	require.Equal(t, event.NameAppOpened, evs[1].Name)
	require.Equal(t, false, evs[1].Properties[event.PropFromBackground])
	session1 := evs[1].Context.SessionID

	// Backgrounding captures the event and pushes the queue out on its
	// own.
	c.Track("browse", nil)
	c.OnBackground()
	evs = waitForEvents(t, f, 4)
	require.Equal(t, "browse", evs[2].Name)
	require.Equal(t, event.NameAppBackgrounded, evs[3].Name)

	// A short background keeps the session.
	clock.Advance(10 * time.Minute)
	c.OnForeground()
	evs = flushUntil(t, c, f, 5)
	require.Equal(t, event.NameAppOpened, evs[4].Name)
	require.Equal(t, true, evs[4].Properties[event.PropFromBackground])
	require.Equal(t, session1, evs[4].Context.SessionID)

	// A long background rotates it.
	c.OnBackground()
	clock.Advance(31 * time.Minute)
	c.OnForeground()
	evs = flushUntil(t, c, f, 9)

	var names []string
	for _, ev := range evs[5:] {
		names = append(names, ev.Name)
	}
	require.Contains(t, names, event.NameSessionEnd)
	opened := evs[len(evs)-1]
	require.Equal(t, event.NameAppOpened, opened.Name)
	require.NotEqual(t, session1, opened.Context.SessionID)
}

func TestOnTerminateEndsSession(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f, nil)
	startClient(t, c)

	c.Track("one", nil)
	c.OnTerminate()
	c.Flush()

	evs := waitForEvents(t, f, 3)
	require.Equal(t, event.NameSessionEnd, evs[2].Name)
	require.Equal(t, evs[0].Context.SessionID, evs[2].Context.SessionID)
}

func TestOnScreenShownToggle(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f, func(cfg *Config) {
		cfg.CaptureScreenViews = Bool(false)
		cfg.EnableSessionTracking = Bool(false)
	})
	startClient(t, c)

	c.OnScreenShown("Hidden")
	require.Equal(t, 0, queueSize(t, c))

	// Screen itself ignores the toggle.
	c.Screen("Explicit", nil)
	require.Equal(t, 1, queueSize(t, c))
}

func TestSessionTrackingDisabled(t *testing.T) {
	f := newFakeIngest(t)
	c := newTestClient(t, f, func(cfg *Config) {
		cfg.EnableSessionTracking = Bool(false)
	})
	startClient(t, c)

	c.OnForeground()
	c.Track("one", nil)
	c.OnBackground()
	c.Flush()

	evs := waitForEvents(t, f, 1)
	for _, ev := range evs {
		require.NotEqual(t, event.NameSessionStart, ev.Name)
		require.NotEqual(t, event.NameSessionEnd, ev.Name)
		require.Empty(t, ev.Context.SessionID)
	}
}
