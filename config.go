package beacon

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/beacon/internal/device"
	"git.home.luguber.info/inful/beacon/internal/diag"
)

// Configuration and lifecycle errors.
var (
	// ErrMissingAPIKey is returned by New when no API key is configured.
	ErrMissingAPIKey = errors.New("beacon: api key is required")

	// ErrAlreadyStarted is returned by Start when the client is running.
	ErrAlreadyStarted = errors.New("beacon: client already started")

	// ErrNotStarted is returned by operations that need a running client.
	ErrNotStarted = errors.New("beacon: client not started")
)

// Defaults applied by New for omitted Config fields.
const (
	DefaultHost           = "https://ingest.beacon.dev"
	DefaultStoragePath    = "./beacon-data"
	DefaultFlushInterval  = 30 * time.Second
	DefaultMaxBatchSize   = 50
	DefaultMaxQueueSize   = 1000
	DefaultSessionTimeout = 30 * time.Minute
	DefaultHTTPTimeout    = 30 * time.Second
)

// DeviceInfo describes the host platform. All fields are optional; zero
// values fall back to runtime facts where one exists. The locale accepts
// the underscore form ("en_US") and is normalized to BCP 47 on the wire.
type DeviceInfo struct {
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

// Config carries everything a Client needs. APIKey is the only required
// field; New fills in defaults for the rest. The Capture*/Enable* toggles
// are pointers so that "unset" and "explicitly off" stay distinct — use
// Bool to set one.
type Config struct {
	// APIKey authenticates against the ingest API. Required.
	APIKey string

	// Host is the base URL of the ingest API.
	Host string

	// StoragePath is the directory holding the durable event queue and
	// the persisted client state. It is created if missing.
	StoragePath string

	// FlushInterval is how often queued events are delivered.
	FlushInterval time.Duration

	// MaxBatchSize caps events per delivery request; reaching it also
	// triggers an early flush.
	MaxBatchSize int

	// MaxQueueSize caps the durable queue; the oldest events are evicted
	// past it.
	MaxQueueSize int

	// SessionTimeout is the inactivity window after which a new session
	// starts.
	SessionTimeout time.Duration

	// FlagRefreshInterval re-fetches cached feature flags periodically
	// when positive. Zero refreshes only on demand: the Start preload,
	// Identify, Reset and ReloadFeatureFlags.
	FlagRefreshInterval time.Duration

	// Device describes the host platform stamped onto every event.
	Device DeviceInfo

	CaptureLifecycleEvents *bool // $app_opened, $app_backgrounded, install/update (default on)
	CaptureScreenViews     *bool // OnScreenShown forwarding (default on)
	EnableFeatureFlags     *bool // decide calls and flag cache (default on)
	EnableSessionTracking  *bool // session ids and session events (default on)
	EnableCrashReporting   *bool // CaptureException and panic hooks (default on)

	// Debug lowers the log level to debug when no Logger is given.
	Debug bool

	// HTTPTimeout bounds each ingest API request.
	HTTPTimeout time.Duration

	// Logger receives the client's structured logs. Defaults to
	// slog.Default.
	Logger *slog.Logger

	// Registry receives pipeline metrics when set; nil disables them.
	Registry *prometheus.Registry
}

// Bool returns a pointer to b, for the Config toggles.
func Bool(b bool) *bool { return &b }

// enabled resolves a tri-state toggle, treating unset as on.
func enabled(v *bool) bool { return v == nil || *v }

// applyDefaults fills omitted fields. Invalid numeric values fall back to
// the defaults rather than failing validation.
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.StoragePath == "" {
		c.StoragePath = DefaultStoragePath
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.FlagRefreshInterval < 0 {
		c.FlagRefreshInterval = 0
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
}

// Validate reports configuration errors that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	if c.Debug {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.Default()
}

func (c *Config) recorder() diag.Recorder {
	if c.Registry == nil {
		return diag.NoopRecorder{}
	}
	return diag.NewPrometheusRecorder(c.Registry)
}

func (c *Config) deviceProvider() device.Provider {
	return device.Static{
		DeviceID:     c.Device.DeviceID,
		AppVersion:   c.Device.AppVersion,
		OSName:       c.Device.OSName,
		OSVersion:    c.Device.OSVersion,
		Model:        c.Device.Model,
		Manufacturer: c.Device.Manufacturer,
		ScreenWidth:  c.Device.ScreenWidth,
		ScreenHeight: c.Device.ScreenHeight,
		Locale:       c.Device.Locale,
		Timezone:     c.Device.Timezone,
		NetworkType:  c.Device.NetworkType,
		Carrier:      c.Device.Carrier,
	}
}
