// Package device supplies the device and application facts stamped onto
// every event. The core pipeline never collects these itself; the host
// application describes its platform through a Provider.
package device

import (
	"runtime"
	"time"

	"golang.org/x/text/language"

	"git.home.luguber.info/inful/beacon/internal/event"
	"git.home.luguber.info/inful/beacon/internal/version"
)

// Provider yields the context block for outgoing events. Implementations
// must be safe for concurrent use; the pipeline reads one snapshot per
// event.
type Provider interface {
	Context() event.Context
}

// Static is a Provider built from fixed values, suitable for hosts whose
// device facts do not change while the process runs. The zero value is
// usable and falls back to runtime facts.
type Static struct {
	DeviceID     string
	AppVersion   string
	OSName       string
	OSVersion    string
	Model        string
	Manufacturer string
	ScreenWidth  int
	ScreenHeight int
	Locale       string
	Timezone     string
	NetworkType  string
	Carrier      string
}

// Context implements Provider. Values are normalized: the locale is
// canonicalized to its BCP 47 form, missing fields fall back to runtime
// facts, and the library block is stamped from the build metadata.
func (s Static) Context() event.Context {
	osName := s.OSName
	if osName == "" {
		osName = runtime.GOOS
	}
	networkType := s.NetworkType
	if networkType == "" {
		networkType = "unknown"
	}
	tz := s.Timezone
	if tz == "" {
		tz, _ = time.Now().Zone()
	}

	return event.Context{
		DeviceID:   s.DeviceID,
		AppVersion: s.AppVersion,
		OS:         event.OS{Name: osName, Version: s.OSVersion},
		Device:     event.Device{Model: s.Model, Manufacturer: s.Manufacturer},
		Screen:     event.Screen{Width: s.ScreenWidth, Height: s.ScreenHeight},
		Locale:     NormalizeLocale(s.Locale),
		Timezone:   tz,
		Network:    event.Network{Type: networkType, Carrier: s.Carrier},
		Library:    event.Library{Name: version.Library, Version: version.Version},
	}
}

// NormalizeLocale canonicalizes a locale tag to BCP 47, accepting the
// underscore form many platforms report. Unparseable input is passed
// through untouched rather than discarded.
func NormalizeLocale(locale string) string {
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return locale
	}
	return tag.String()
}
