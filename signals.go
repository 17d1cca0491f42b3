package beacon

import (
	"context"

	"git.home.luguber.info/inful/beacon/internal/event"
	"git.home.luguber.info/inful/beacon/internal/logfields"
)

// Lifecycle signals. Hosts forward their platform's notifications here;
// the client never observes the process state on its own.

// OnForeground marks the app visible. Within the session timeout the
// backgrounded session resumes, otherwise a new one starts. With
// lifecycle capture on, an $app_opened event records whether this was a
// cold start or a return from background.
func (c *Client) OnForeground() {
	if c == nil || !c.running() {
		return
	}
	fromBackground := !c.openedOnce.CompareAndSwap(false, true)
	if c.sessions != nil {
		c.sessions.OnForeground()
	}
	if enabled(c.cfg.CaptureLifecycleEvents) {
		c.capture(event.NameAppOpened, map[string]any{
			event.PropFromBackground: fromBackground,
		}, "lifecycle")
	}
}

// OnBackground marks the app hidden: the session records the background
// time, an $app_backgrounded event is captured, and queued events are
// pushed out while the process is still allowed to run.
func (c *Client) OnBackground() {
	if c == nil || !c.running() {
		return
	}
	if enabled(c.cfg.CaptureLifecycleEvents) {
		c.capture(event.NameAppBackgrounded, nil, "lifecycle")
	}
	if c.sessions != nil {
		c.sessions.OnBackground()
	}
	c.goAsync(func(ctx context.Context) {
		c.queue.AutoFlush(ctx, "app background")
		if err := c.queue.Checkpoint(ctx); err != nil {
			c.logger.Debug("queue checkpoint failed", logfields.Error(err))
		}
	})
}

// OnTerminate ends the session and checkpoints the queue so the on-disk
// state is complete. It does not flush; hosts that can afford a network
// round-trip on exit should call Shutdown instead.
func (c *Client) OnTerminate() {
	if c == nil || !c.running() {
		return
	}
	if c.sessions != nil {
		c.sessions.End()
	}
	if err := c.queue.Checkpoint(c.runCtx); err != nil {
		c.logger.Debug("queue checkpoint failed", logfields.Error(err))
	}
}

// OnScreenShown forwards a screen view, honoring the CaptureScreenViews
// toggle. Use Screen directly to capture regardless of the toggle.
func (c *Client) OnScreenShown(name string) {
	if c == nil || !enabled(c.cfg.CaptureScreenViews) {
		return
	}
	c.Screen(name, nil)
}
