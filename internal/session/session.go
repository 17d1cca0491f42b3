// Package session tracks the inactivity-window session model: a session
// stays alive while events keep arriving and rotates after a quiet period.
//
// Reading the current session id counts as activity and extends the
// window. Backgrounding records a timestamp but does not end the session;
// the decision falls on the next foreground or the next event.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/beacon/internal/diag"
	"git.home.luguber.info/inful/beacon/internal/dynval"
	"git.home.luguber.info/inful/beacon/internal/event"
	"git.home.luguber.info/inful/beacon/internal/logfields"
	"git.home.luguber.info/inful/beacon/internal/statestore"
)

// DefaultTimeout rotates a session after thirty quiet minutes.
const DefaultTimeout = 30 * time.Minute

// Sink receives the session lifecycle events. Calls arrive outside the
// manager's lock; the receiver must enqueue with the given session id
// instead of asking the manager back.
type Sink func(name, sessionID string, props map[string]dynval.Value)

// Manager owns the current session window. Markers are mirrored to the
// state store on every change so a fast restart resumes the same session.
type Manager struct {
	clock   clockwork.Clock
	timeout time.Duration
	store   statestore.SessionStore
	sink    Sink
	rec     diag.Recorder
	logger  *slog.Logger

	mu      sync.Mutex
	current statestore.SessionMarker
	active  bool
}

// Options configures a Manager. Store and Sink are required.
type Options struct {
	Timeout  time.Duration
	Store    statestore.SessionStore
	Sink     Sink
	Clock    clockwork.Clock
	Recorder diag.Recorder
	Logger   *slog.Logger
}

// NewManager builds a manager and rehydrates any persisted session
// marker. A stale marker is not discarded here: the expiry logic emits
// its $session_end the moment new activity arrives.
func NewManager(opts Options) *Manager {
	m := &Manager{
		clock:   opts.Clock,
		timeout: opts.Timeout,
		store:   opts.Store,
		sink:    opts.Sink,
		rec:     opts.Recorder,
		logger:  opts.Logger,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.rec == nil {
		m.rec = diag.NoopRecorder{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if marker, ok := m.store.Marker(); ok {
		m.current = marker
		m.active = true
	}
	return m
}

type emission struct {
	name      string
	sessionID string
	props     map[string]dynval.Value
}

// Current returns the live session id, starting or rotating the session
// as needed. The read itself counts as activity.
func (m *Manager) Current() string {
	m.mu.Lock()
	now := m.clock.Now()

	if m.active && now.Sub(m.current.LastActivityAt) <= m.timeout {
		m.current.LastActivityAt = now
		m.store.SetMarker(m.current)
		id := m.current.ID
		m.mu.Unlock()
		return id
	}

	emits := m.rotateLocked(now)
	id := m.current.ID
	m.mu.Unlock()

	m.emit(emits)
	return id
}

// OnBackground records when the app left the foreground. The session is
// not ended; whether it survives is decided on the next foreground.
func (m *Manager) OnBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.current.BackgroundedAt = m.clock.Now()
	m.store.SetMarker(m.current)
}

// OnForeground continues the session when the time away stayed within the
// timeout and rotates it otherwise. It reports whether a new session was
// started.
func (m *Manager) OnForeground() bool {
	m.mu.Lock()
	now := m.clock.Now()

	if m.active {
		// Without a background mark (crash, restart) the general
		// inactivity rule applies.
		since := m.current.BackgroundedAt
		if since.IsZero() {
			since = m.current.LastActivityAt
		}
		if now.Sub(since) <= m.timeout {
			m.current.BackgroundedAt = time.Time{}
			m.current.LastActivityAt = now
			m.store.SetMarker(m.current)
			m.mu.Unlock()
			return false
		}
	}

	emits := m.rotateLocked(now)
	m.mu.Unlock()

	m.emit(emits)
	return true
}

// End closes the current session, used on shutdown.
func (m *Manager) End() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	emits := []emission{m.endEmissionLocked()}
	m.active = false
	m.current = statestore.SessionMarker{}
	m.store.ClearMarker()
	m.mu.Unlock()

	m.emit(emits)
}

// Drop discards the current session and its marker without emitting
// lifecycle events. Used when the owning identity is wiped; the next
// activity starts a fresh session as usual.
func (m *Manager) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.current = statestore.SessionMarker{}
	m.store.ClearMarker()
}

// rotateLocked ends the active session and starts a fresh one. Callers
// must hold the lock and fire the returned emissions after releasing it.
func (m *Manager) rotateLocked(now time.Time) []emission {
	var emits []emission
	if m.active {
		emits = append(emits, m.endEmissionLocked())
	}

	m.current = statestore.SessionMarker{
		ID:             uuid.NewString(),
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.active = true
	m.store.SetMarker(m.current)
	m.rec.IncSessionStarted()
	m.logger.Debug("session started", logfields.SessionID(m.current.ID))

	emits = append(emits, emission{name: event.NameSessionStart, sessionID: m.current.ID})
	return emits
}

func (m *Manager) endEmissionLocked() emission {
	duration := m.current.LastActivityAt.Sub(m.current.StartedAt)
	if duration < 0 {
		duration = 0
	}
	m.logger.Debug("session ended",
		logfields.SessionID(m.current.ID),
		logfields.DurationMS(float64(duration.Milliseconds())))
	return emission{
		name:      event.NameSessionEnd,
		sessionID: m.current.ID,
		props: map[string]dynval.Value{
			event.PropSessionDuration: dynval.Integer(int64(duration.Seconds())),
		},
	}
}

func (m *Manager) emit(emits []emission) {
	if m.sink == nil {
		return
	}
	for _, e := range emits {
		m.sink(e.name, e.sessionID, e.props)
	}
}
