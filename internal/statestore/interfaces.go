package statestore

import (
	"git.home.luguber.info/inful/beacon/internal/dynval"
	"git.home.luguber.info/inful/beacon/internal/flags"
)

// IdentityStore reads and writes who the current user is.
type IdentityStore interface {
	// DistinctID returns the current distinct id, anonymous or identified.
	DistinctID() string

	// AnonymousID returns the generated anonymous id. It survives
	// Identify and changes only on Reset.
	AnonymousID() string

	// IsIdentified reports whether the distinct id names an external user.
	IsIdentified() bool

	// Traits returns a copy of the accumulated user traits.
	Traits() map[string]dynval.Value

	// Identify switches the distinct id to userID, merges traits over the
	// existing set and returns the previous distinct id.
	Identify(userID string, traits map[string]dynval.Value) (previous string)
}

// SuperPropertyStore manages properties merged into every event.
type SuperPropertyStore interface {
	// All returns a copy of the registered super properties.
	All() map[string]dynval.Value

	// Register merges props over the existing set.
	Register(props map[string]dynval.Value)

	// Unregister removes one key.
	Unregister(key string)

	// Clear removes all super properties.
	Clear()
}

// FlagStore caches the last feature flag response.
type FlagStore interface {
	// Get returns the cached value for key.
	Get(key string) (flags.Value, bool)

	// All returns a copy of the cached flag set.
	All() map[string]flags.Value

	// Replace swaps the whole cached set. The previous set is discarded,
	// not merged.
	Replace(set map[string]flags.Value)
}

// SessionStore persists the live session window across restarts.
type SessionStore interface {
	Marker() (SessionMarker, bool)
	SetMarker(m SessionMarker)
	ClearMarker()
}

// PrivacyStore persists the opt-out choice.
type PrivacyStore interface {
	OptedOut() bool
	SetOptedOut(optedOut bool)
}

// LifecycleStore tracks install/update detection state.
type LifecycleStore interface {
	// LastAppVersion returns the app version seen on the previous run,
	// or empty on first run.
	LastAppVersion() string
	SetLastAppVersion(v string)
}

// Compile-time verification that the store views satisfy the interfaces.
var (
	_ IdentityStore      = identityView{}
	_ SuperPropertyStore = superPropertyView{}
	_ FlagStore          = flagView{}
	_ SessionStore       = sessionView{}
	_ PrivacyStore       = privacyView{}
	_ LifecycleStore     = lifecycleView{}
)
