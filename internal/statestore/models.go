package statestore

import (
	"time"

	"git.home.luguber.info/inful/beacon/internal/dynval"
	"git.home.luguber.info/inful/beacon/internal/flags"
)

// Document is the complete persisted client state, stored as one JSON file.
type Document struct {
	DistinctID      string                  `json:"distinct_id"`
	AnonymousID     string                  `json:"anonymous_id"`
	Traits          map[string]dynval.Value `json:"traits,omitempty"`
	SuperProperties map[string]dynval.Value `json:"super_properties,omitempty"`
	FeatureFlags    map[string]flags.Value  `json:"feature_flags,omitempty"`
	Session         *SessionMarker          `json:"session,omitempty"`
	OptedOut        bool                    `json:"opted_out,omitempty"`
	LastAppVersion  string                  `json:"last_app_version,omitempty"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// SessionMarker mirrors the live session window to disk so a fast restart
// can resume the same session.
type SessionMarker struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	BackgroundedAt time.Time `json:"backgrounded_at,omitzero"`
}
