package beacon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/beacon/internal/breadcrumb"
	"git.home.luguber.info/inful/beacon/internal/device"
	"git.home.luguber.info/inful/beacon/internal/diag"
	"git.home.luguber.info/inful/beacon/internal/dispatch"
	"git.home.luguber.info/inful/beacon/internal/dynval"
	"git.home.luguber.info/inful/beacon/internal/event"
	"git.home.luguber.info/inful/beacon/internal/logfields"
	"git.home.luguber.info/inful/beacon/internal/queue"
	"git.home.luguber.info/inful/beacon/internal/retry"
	"git.home.luguber.info/inful/beacon/internal/session"
	"git.home.luguber.info/inful/beacon/internal/statestore"
)

const queueFileName = "events.db"

// Breadcrumb is one recorded user-journey step, kept for crash reports.
// The implementation lives in internal/breadcrumb.
type Breadcrumb = breadcrumb.Crumb

// Client is the embeddable analytics pipeline. All capture methods are
// safe for concurrent use, never block on network I/O, and degrade to
// logged no-ops when the client is not started or the user opted out.
type Client struct {
	cfg    Config
	logger *slog.Logger
	rec    diag.Recorder
	clock  clockwork.Clock

	store      *statestore.Store
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	crumbs     *breadcrumb.Ring
	device     device.Provider

	scheduler gocron.Scheduler

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu         sync.Mutex // guards Start/Shutdown transitions
	started    atomic.Bool
	closed     atomic.Bool
	openedOnce atomic.Bool

	bgMu sync.Mutex
	bg   sync.WaitGroup
}

// New builds a client from cfg, opening the durable queue and the state
// store under cfg.StoragePath. The pipeline stays idle until Start.
func New(cfg Config) (*Client, error) {
	return newClient(cfg, clockwork.NewRealClock())
}

func newClient(cfg Config, clock clockwork.Clock) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.logger(),
		rec:    cfg.recorder(),
		clock:  clock,
		device: cfg.deviceProvider(),
	}
	c.runCtx, c.cancelRun = context.WithCancel(context.Background())

	store, err := statestore.Open(cfg.StoragePath, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	c.store = store

	storage, err := queue.OpenStorage(filepath.Join(cfg.StoragePath, queueFileName))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open event queue: %w", err)
	}

	c.dispatcher = dispatch.New(cfg.Host, cfg.APIKey, cfg.HTTPTimeout)
	c.queue = queue.New(queue.Options{
		Storage:      storage,
		Sender:       c.dispatcher,
		Gate:         retry.NewGate(retry.DefaultPolicy(), clock),
		Recorder:     c.rec,
		Logger:       c.logger,
		Clock:        clock,
		MaxBatchSize: cfg.MaxBatchSize,
		MaxQueueSize: cfg.MaxQueueSize,
	})

	if enabled(cfg.EnableSessionTracking) {
		c.sessions = session.NewManager(session.Options{
			Timeout:  cfg.SessionTimeout,
			Store:    store.Session(),
			Sink:     c.sessionSink,
			Clock:    clock,
			Recorder: c.rec,
			Logger:   c.logger,
		})
	}
	c.crumbs = breadcrumb.NewRing(breadcrumb.DefaultCapacity, clock)

	return c, nil
}

// Start brings the pipeline online: the periodic flush job, the optional
// flag refresh job, the feature flag preload and the install/update
// lifecycle events. Starting twice returns ErrAlreadyStarted.
func (c *Client) Start(ctx context.Context) error {
	if c == nil {
		return ErrNotStarted
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrNotStarted
	}
	if c.started.Load() {
		c.logger.Warn("start ignored, client already running")
		return ErrAlreadyStarted
	}

	scheduler, err := gocron.NewScheduler(gocron.WithClock(c.clock))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(c.cfg.FlushInterval),
		gocron.NewTask(c.flushTick),
		gocron.WithName("flush"),
	); err != nil {
		return fmt.Errorf("schedule flush job: %w", err)
	}
	if c.cfg.FlagRefreshInterval > 0 && enabled(c.cfg.EnableFeatureFlags) {
		if _, err := scheduler.NewJob(
			gocron.DurationJob(c.cfg.FlagRefreshInterval),
			gocron.NewTask(c.flagTick),
			gocron.WithName("flag-refresh"),
		); err != nil {
			return fmt.Errorf("schedule flag refresh job: %w", err)
		}
	}
	scheduler.Start()
	c.scheduler = scheduler
	c.started.Store(true)

	c.trackInstallOrUpdate()

	if enabled(c.cfg.EnableFeatureFlags) {
		c.goAsync(func(ctx context.Context) {
			if err := c.refreshFlags(ctx); err != nil {
				c.logger.Warn("feature flag preload failed", logfields.Error(err))
			}
		})
	}

	c.logger.Info("beacon client started",
		logfields.Endpoint(c.cfg.Host),
		slog.Duration("flush_interval", c.cfg.FlushInterval),
		logfields.QueueSize(c.cfg.MaxQueueSize))
	return nil
}

// Shutdown stops the pipeline: scheduler off, session ended, background
// work awaited, one final flush and a WAL checkpoint, all bounded by ctx.
// An in-flight delivery is left to finish on its own. Shutdown is
// idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.bgMu.Lock()
	c.closed.Store(true)
	c.bgMu.Unlock()

	if c.scheduler != nil {
		if err := c.scheduler.Shutdown(); err != nil {
			c.logger.Warn("scheduler shutdown failed", logfields.Error(err))
		}
	}
	if c.sessions != nil {
		c.sessions.End()
	}

	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("shutdown deadline reached waiting for background work")
	}

	c.queue.Flush(ctx)
	if err := c.queue.Checkpoint(ctx); err != nil {
		c.logger.Warn("queue checkpoint failed", logfields.Error(err))
	}

	c.cancelRun()

	var errs []error
	if err := c.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event queue: %w", err))
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state store: %w", err))
	}
	c.logger.Info("beacon client stopped")
	return errors.Join(errs...)
}

// Track records a custom event with the given properties. Super
// properties are merged in first, so call-site properties win on
// conflict.
func (c *Client) Track(name string, properties map[string]any) {
	if c == nil {
		return
	}
	if name == "" {
		c.logger.Warn("track called with empty event name")
		return
	}
	c.capture(name, properties, "event")
}

// Screen records a screen view as a $screen event carrying $screen_name.
func (c *Client) Screen(name string, properties map[string]any) {
	if c == nil {
		return
	}
	if name == "" {
		c.logger.Warn("screen called with empty screen name")
		return
	}
	props := make(map[string]any, len(properties)+1)
	for k, v := range properties {
		props[k] = v
	}
	props[event.PropScreenName] = name
	c.capture(event.NameScreen, props, "ui")
}

// Identify binds the current anonymous history to userID. Traits are
// merged into the stored ones (new values win, absent keys survive), a
// $identify event records the old and new ids for server-side merging,
// and cached feature flags refresh for the new identity.
func (c *Client) Identify(userID string, traits map[string]any) {
	if c == nil {
		return
	}
	if userID == "" {
		c.logger.Warn("identify called with empty user id")
		return
	}
	if !c.running() {
		c.logger.Debug("identify dropped, client not started", logfields.DistinctID(userID))
		return
	}
	if c.store.Privacy().OptedOut() {
		return
	}

	tv := dynval.FromAnyMap(traits)
	previous := c.store.Identity().Identify(userID, tv)

	c.captureValues(event.NameIdentify, map[string]dynval.Value{
		event.PropAnonDistinctID: dynval.Str(previous),
		event.PropSet:            dynval.Mapping(tv),
	}, "identity")

	c.goAsync(func(ctx context.Context) {
		if err := c.dispatcher.SendIdentify(ctx, previous, userID, tv); err != nil {
			c.logger.Warn("identify call failed, next identify retries",
				logfields.DistinctID(userID), logfields.Error(err))
		}
	})
	c.goAsync(func(ctx context.Context) {
		if err := c.refreshFlags(ctx); err != nil {
			c.logger.Debug("flag refresh after identify failed", logfields.Error(err))
		}
	})
}

// Reset wipes the current identity: a best-effort flush is kicked off,
// identity, traits, super properties, flag cache and breadcrumbs are
// cleared, queued events are purged, a fresh anonymous id and session
// begin. The opt-out choice and the install marker survive.
func (c *Client) Reset() {
	if c == nil || !c.running() {
		return
	}

	c.goAsync(func(ctx context.Context) {
		c.queue.Flush(ctx)
	})

	c.store.Reset()
	if err := c.queue.Purge(c.runCtx, diag.DropReset); err != nil {
		c.logger.Warn("queue purge failed", logfields.Error(err))
	}
	c.crumbs.Clear()
	if c.sessions != nil {
		c.sessions.Drop()
		c.sessions.Current()
	}
	c.goAsync(func(ctx context.Context) {
		if err := c.refreshFlags(ctx); err != nil {
			c.logger.Debug("flag refresh after reset failed", logfields.Error(err))
		}
	})
	c.logger.Info("client state reset", logfields.DistinctID(c.store.Identity().DistinctID()))
}

// Flush requests immediate delivery of queued events, bypassing the
// retry backoff. It returns without waiting for the result.
func (c *Client) Flush() {
	if c == nil || !c.running() {
		return
	}
	c.goAsync(func(ctx context.Context) {
		c.queue.Flush(ctx)
	})
}

// ReloadFeatureFlags fetches the flag set for the current identity and
// replaces the cached mapping. On failure the previous cache stays.
func (c *Client) ReloadFeatureFlags(ctx context.Context) error {
	if c == nil || !c.running() {
		return ErrNotStarted
	}
	return c.refreshFlags(ctx)
}

// IsFeatureEnabled reports whether the named flag is on in the cached
// mapping. Unknown flags are off.
func (c *Client) IsFeatureEnabled(key string) bool {
	if c == nil {
		return false
	}
	v, ok := c.store.Flags().Get(key)
	return ok && v.Enabled()
}

// FeatureFlagPayload returns the structured payload of the named flag,
// or nil when the flag is unknown or carries none.
func (c *Client) FeatureFlagPayload(key string) map[string]any {
	if c == nil {
		return nil
	}
	v, ok := c.store.Flags().Get(key)
	if !ok {
		return nil
	}
	return dynval.ToAnyMap(v.Payload())
}

// FeatureFlags returns the cached flag set as key to enabled state.
func (c *Client) FeatureFlags() map[string]bool {
	if c == nil {
		return nil
	}
	all := c.store.Flags().All()
	out := make(map[string]bool, len(all))
	for key, v := range all {
		out[key] = v.Enabled()
	}
	return out
}

// SetOptOut persists the user's tracking choice. Opting out purges the
// queued backlog immediately; it is not only future suppression.
func (c *Client) SetOptOut(optOut bool) {
	if c == nil {
		return
	}
	c.store.Privacy().SetOptedOut(optOut)
	if optOut {
		if err := c.queue.Purge(c.runCtx, diag.DropOptOut); err != nil {
			c.logger.Warn("queue purge failed", logfields.Error(err))
		}
	}
	c.logger.Info("opt-out updated", slog.Bool("opted_out", optOut))
}

// OptedOut reports the persisted tracking choice.
func (c *Client) OptedOut() bool {
	if c == nil {
		return false
	}
	return c.store.Privacy().OptedOut()
}

// Register persists super properties, merged onto events until
// unregistered.
func (c *Client) Register(properties map[string]any) {
	if c == nil || len(properties) == 0 {
		return
	}
	c.store.SuperProperties().Register(dynval.FromAnyMap(properties))
}

// Unregister removes one super property.
func (c *Client) Unregister(key string) {
	if c == nil {
		return
	}
	c.store.SuperProperties().Unregister(key)
}

// ClearSuperProperties removes all super properties.
func (c *Client) ClearSuperProperties() {
	if c == nil {
		return
	}
	c.store.SuperProperties().Clear()
}

// DistinctID returns the current identity: the user id after Identify,
// otherwise the generated anonymous id.
func (c *Client) DistinctID() string {
	if c == nil {
		return ""
	}
	return c.store.Identity().DistinctID()
}

// AddBreadcrumb records a user-journey step for future crash reports.
func (c *Client) AddBreadcrumb(action, category string) {
	if c == nil || action == "" {
		return
	}
	c.crumbs.Add(action, category)
}

// Breadcrumbs returns a snapshot of the recorded breadcrumbs, oldest
// first.
func (c *Client) Breadcrumbs() []Breadcrumb {
	if c == nil {
		return nil
	}
	return c.crumbs.Snapshot()
}

func (c *Client) running() bool {
	return c.started.Load() && !c.closed.Load()
}

// capture is the shared append path for public events.
func (c *Client) capture(name string, properties map[string]any, category string) {
	c.captureValues(name, dynval.FromAnyMap(properties), category)
}

func (c *Client) captureValues(name string, props map[string]dynval.Value, category string) {
	if !c.running() {
		c.logger.Debug("event dropped, client not started", logfields.Event(name))
		return
	}
	if c.store.Privacy().OptedOut() {
		return
	}

	merged := c.store.SuperProperties().All()
	if merged == nil {
		merged = make(map[string]dynval.Value, len(props))
	}
	for k, v := range props {
		merged[k] = v
	}

	sessionID := ""
	if c.sessions != nil {
		sessionID = c.sessions.Current()
	}
	c.enqueueEvent(c.runCtx, name, sessionID, merged)
	c.crumbs.Add(name, category)
}

// enqueueEvent stamps and queues one event. Session lifecycle events come
// through here directly with their own session id, bypassing the
// activity-extending Current lookup.
func (c *Client) enqueueEvent(ctx context.Context, name, sessionID string, props map[string]dynval.Value) {
	evCtx := c.device.Context()
	evCtx.SessionID = sessionID
	ev := event.New(name, c.store.Identity().DistinctID(), props, evCtx, c.clock.Now())

	full, err := c.queue.Enqueue(ctx, ev)
	if err != nil {
		c.logger.Warn("event not queued", logfields.Event(name), logfields.Error(err))
		return
	}
	c.logger.Debug("event queued", logfields.Event(name), logfields.SessionID(sessionID))
	if full {
		c.goAsync(func(ctx context.Context) {
			c.queue.AutoFlush(ctx, "batch threshold")
		})
	}
}

func (c *Client) sessionSink(name, sessionID string, props map[string]dynval.Value) {
	if c.store.Privacy().OptedOut() {
		return
	}
	c.enqueueEvent(c.runCtx, name, sessionID, props)
}

func (c *Client) flushTick() {
	c.queue.AutoFlush(c.runCtx, "interval")
}

func (c *Client) flagTick() {
	if err := c.refreshFlags(c.runCtx); err != nil {
		c.logger.Debug("scheduled flag refresh failed", logfields.Error(err))
	}
}

func (c *Client) refreshFlags(ctx context.Context) error {
	if !enabled(c.cfg.EnableFeatureFlags) {
		return nil
	}
	if c.store.Privacy().OptedOut() {
		return nil
	}
	evCtx := c.device.Context()
	props := map[string]dynval.Value{
		event.PropAppVersion: dynval.Str(evCtx.AppVersion),
		event.PropOSName:     dynval.Str(evCtx.OS.Name),
		event.PropOSVersion:  dynval.Str(evCtx.OS.Version),
	}

	set, err := c.dispatcher.FetchFeatureFlags(ctx, c.store.Identity().DistinctID(), props)
	if err != nil {
		c.rec.IncFlagRefresh(diag.ResultFailure)
		return fmt.Errorf("refresh feature flags: %w", err)
	}
	c.store.Flags().Replace(set)
	c.rec.IncFlagRefresh(diag.ResultSuccess)
	c.logger.Debug("feature flags refreshed", logfields.Count(len(set)))
	return nil
}

// trackInstallOrUpdate emits $app_installed on the first run and
// $app_updated when the stored app version changed since the last one.
func (c *Client) trackInstallOrUpdate() {
	if !enabled(c.cfg.CaptureLifecycleEvents) {
		return
	}
	current := c.device.Context().AppVersion
	if current == "" {
		return
	}
	last := c.store.Lifecycle().LastAppVersion()
	switch {
	case last == "":
		c.capture(event.NameAppInstalled, nil, "lifecycle")
	case last != current:
		c.capture(event.NameAppUpdated, map[string]any{
			event.PropPreviousAppVersion: last,
		}, "lifecycle")
	}
	if last != current {
		c.store.Lifecycle().SetLastAppVersion(current)
	}
}

// goAsync runs fn on the run context, tracked so Shutdown can wait for
// it. After Shutdown no new work is accepted.
func (c *Client) goAsync(fn func(context.Context)) {
	c.bgMu.Lock()
	if c.closed.Load() {
		c.bgMu.Unlock()
		return
	}
	c.bg.Add(1)
	c.bgMu.Unlock()
	go func() {
		defer c.bg.Done()
		fn(c.runCtx)
	}()
}
