// Package statestore persists the client-side state that must survive
// process restarts: identity, user traits, super properties, the feature
// flag cache, session markers and the opt-out choice.
//
// All state lives in one JSON document guarded by a single lock; every
// mutation rewrites the document atomically (temp file plus rename), so a
// crash never leaves a half-written state file behind. Persistence
// failures are logged and the in-memory state stays authoritative; the
// next successful write heals the file.
package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/beacon/internal/dynval"
	"git.home.luguber.info/inful/beacon/internal/flags"
	"git.home.luguber.info/inful/beacon/internal/logfields"
)

const stateFileName = "beacon-state.json"

// AnonymousIDPrefix marks generated distinct ids so identified and
// anonymous users can be told apart without extra bookkeeping.
const AnonymousIDPrefix = "anon-"

// Store holds the persistent client state. Use Open for a file-backed
// store or NewMemory for an ephemeral one.
type Store struct {
	mu     sync.RWMutex
	doc    Document
	path   string // empty means memory-only
	logger *slog.Logger
}

// Open loads or creates the state file under dir. A corrupt state file is
// logged and replaced with fresh state rather than failing the client.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	s := &Store{path: filepath.Join(dir, stateFileName), logger: logger}
	if err := s.loadFromDisk(); err != nil {
		logger.Warn("discarding unreadable state file", logfields.Error(err))
		s.doc = Document{}
	}
	s.mu.Lock()
	s.ensureIdentityUnsafe()
	s.mu.Unlock()
	return s, nil
}

// NewMemory returns a store that never touches disk.
func NewMemory() *Store {
	s := &Store{logger: slog.Default()}
	s.mu.Lock()
	s.ensureIdentityUnsafe()
	s.mu.Unlock()
	return s
}

// Identity returns the identity view.
func (s *Store) Identity() IdentityStore { return identityView{s} }

// SuperProperties returns the super property view.
func (s *Store) SuperProperties() SuperPropertyStore { return superPropertyView{s} }

// Flags returns the feature flag cache view.
func (s *Store) Flags() FlagStore { return flagView{s} }

// Session returns the session marker view.
func (s *Store) Session() SessionStore { return sessionView{s} }

// Privacy returns the opt-out view.
func (s *Store) Privacy() PrivacyStore { return privacyView{s} }

// Lifecycle returns the install/update tracking view.
func (s *Store) Lifecycle() LifecycleStore { return lifecycleView{s} }

// Reset clears identity, traits, super properties, flags and session
// markers, then generates a fresh anonymous identity. The opt-out choice
// and the install marker deliberately survive: one is a privacy decision,
// the other is device state, and neither belongs to the old identity.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = Document{
		OptedOut:       s.doc.OptedOut,
		LastAppVersion: s.doc.LastAppVersion,
	}
	s.ensureIdentityUnsafe()
}

// Close writes the state out one final time.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistUnsafe()
}

// ensureIdentityUnsafe generates the anonymous identity when absent.
// Callers must hold the lock.
func (s *Store) ensureIdentityUnsafe() {
	changed := false
	if s.doc.AnonymousID == "" {
		s.doc.AnonymousID = AnonymousIDPrefix + uuid.NewString()
		changed = true
	}
	if s.doc.DistinctID == "" {
		s.doc.DistinctID = s.doc.AnonymousID
		changed = true
	}
	if changed {
		s.persistLogged()
	}
}

func (s *Store) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	s.doc = doc
	return nil
}

// persistUnsafe writes the document to disk without acquiring the lock.
func (s *Store) persistUnsafe() error {
	if s.path == "" {
		return nil
	}
	s.doc.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tempPath := s.path + ".tmp"
	// Atomic write using temporary file. 0600 because the document holds
	// user identity and traits.
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write temporary state file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// persistLogged persists and downgrades failure to a warning so one bad
// write cannot break the host application.
func (s *Store) persistLogged() {
	if err := s.persistUnsafe(); err != nil {
		s.logger.Warn("state persist failed", logfields.Error(err))
	}
}

// --- category views ---

type identityView struct{ s *Store }

func (v identityView) DistinctID() string {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.doc.DistinctID
}

func (v identityView) AnonymousID() string {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.doc.AnonymousID
}

func (v identityView) IsIdentified() bool {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.doc.DistinctID != "" && v.s.doc.DistinctID != v.s.doc.AnonymousID
}

func (v identityView) Traits() map[string]dynval.Value {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return copyValueMap(v.s.doc.Traits)
}

func (v identityView) Identify(userID string, traits map[string]dynval.Value) string {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	previous := v.s.doc.DistinctID
	v.s.doc.DistinctID = userID
	if len(traits) > 0 {
		if v.s.doc.Traits == nil {
			v.s.doc.Traits = make(map[string]dynval.Value, len(traits))
		}
		for k, val := range traits {
			v.s.doc.Traits[k] = val
		}
	}
	v.s.persistLogged()
	return previous
}

type superPropertyView struct{ s *Store }

func (v superPropertyView) All() map[string]dynval.Value {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return copyValueMap(v.s.doc.SuperProperties)
}

func (v superPropertyView) Register(props map[string]dynval.Value) {
	if len(props) == 0 {
		return
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.doc.SuperProperties == nil {
		v.s.doc.SuperProperties = make(map[string]dynval.Value, len(props))
	}
	for k, val := range props {
		v.s.doc.SuperProperties[k] = val
	}
	v.s.persistLogged()
}

func (v superPropertyView) Unregister(key string) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.doc.SuperProperties[key]; !ok {
		return
	}
	delete(v.s.doc.SuperProperties, key)
	v.s.persistLogged()
}

func (v superPropertyView) Clear() {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if len(v.s.doc.SuperProperties) == 0 {
		return
	}
	v.s.doc.SuperProperties = nil
	v.s.persistLogged()
}

type flagView struct{ s *Store }

func (v flagView) Get(key string) (flags.Value, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	val, ok := v.s.doc.FeatureFlags[key]
	return val, ok
}

func (v flagView) All() map[string]flags.Value {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.doc.FeatureFlags == nil {
		return nil
	}
	out := make(map[string]flags.Value, len(v.s.doc.FeatureFlags))
	for k, val := range v.s.doc.FeatureFlags {
		out[k] = val
	}
	return out
}

func (v flagView) Replace(set map[string]flags.Value) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.doc.FeatureFlags = set
	v.s.persistLogged()
}

type sessionView struct{ s *Store }

func (v sessionView) Marker() (SessionMarker, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.doc.Session == nil {
		return SessionMarker{}, false
	}
	return *v.s.doc.Session, true
}

func (v sessionView) SetMarker(m SessionMarker) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.doc.Session = &m
	v.s.persistLogged()
}

func (v sessionView) ClearMarker() {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.doc.Session == nil {
		return
	}
	v.s.doc.Session = nil
	v.s.persistLogged()
}

type privacyView struct{ s *Store }

func (v privacyView) OptedOut() bool {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.doc.OptedOut
}

func (v privacyView) SetOptedOut(optedOut bool) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.doc.OptedOut == optedOut {
		return
	}
	v.s.doc.OptedOut = optedOut
	v.s.persistLogged()
}

type lifecycleView struct{ s *Store }

func (v lifecycleView) LastAppVersion() string {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.doc.LastAppVersion
}

func (v lifecycleView) SetLastAppVersion(ver string) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.doc.LastAppVersion = ver
	v.s.persistLogged()
}

func copyValueMap(in map[string]dynval.Value) map[string]dynval.Value {
	if in == nil {
		return nil
	}
	out := make(map[string]dynval.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
