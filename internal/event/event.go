// Package event defines the wire model for captured analytics events.
package event

import (
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/beacon/internal/dynval"
)

// Reserved event names and property keys. The $ prefix marks
// library-generated names on the wire.
const (
	TypeTrack = "track"

	NameSessionStart    = "$session_start"
	NameSessionEnd      = "$session_end"
	NameIdentify        = "$identify"
	NameScreen          = "$screen"
	NameAppOpened       = "$app_opened"
	NameAppBackgrounded = "$app_backgrounded"
	NameAppInstalled    = "$app_installed"
	NameAppUpdated      = "$app_updated"

	PropSessionDuration    = "$session_duration"
	PropAnonDistinctID     = "$anon_distinct_id"
	PropSet                = "$set"
	PropScreenName         = "$screen_name"
	PropFromBackground     = "$from_background"
	PropPreviousAppVersion = "$previous_app_version"
	PropAppVersion         = "$app_version"
	PropOSName             = "$os_name"
	PropOSVersion          = "$os_version"
)

// Event is one captured analytics event, immutable after creation.
type Event struct {
	Type       string                  `json:"type"`
	UUID       string                  `json:"uuid"`
	Name       string                  `json:"event"`
	DistinctID string                  `json:"distinct_id"`
	Properties map[string]dynval.Value `json:"properties,omitempty"`
	Timestamp  string                  `json:"timestamp"`
	Context    Context                 `json:"context"`
}

// New stamps a track event with a fresh uuid and the given creation time.
// The uuid lets the collection endpoint deduplicate redelivered batches.
func New(name, distinctID string, props map[string]dynval.Value, ctx Context, at time.Time) Event {
	return Event{
		Type:       TypeTrack,
		UUID:       uuid.NewString(),
		Name:       name,
		DistinctID: distinctID,
		Properties: props,
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
		Context:    ctx,
	}
}

// Context is the device and session snapshot attached to every event.
type Context struct {
	DeviceID   string  `json:"device_id,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	AppVersion string  `json:"app_version,omitempty"`
	OS         OS      `json:"os"`
	Device     Device  `json:"device"`
	Screen     Screen  `json:"screen"`
	Locale     string  `json:"locale,omitempty"`
	Timezone   string  `json:"timezone,omitempty"`
	Network    Network `json:"network"`
	Library    Library `json:"library"`
}

type OS struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Device struct {
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
}

type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Network struct {
	Type    string `json:"type"`
	Carrier string `json:"carrier,omitempty"`
}

type Library struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
