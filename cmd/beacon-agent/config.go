package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/beacon"
)

// agentConfig is the on-disk configuration for the agent. Duration fields
// are duration strings ("30s", "5m") so the file stays hand-editable.
type agentConfig struct {
	APIKey      string `yaml:"api_key"`
	Host        string `yaml:"host,omitempty"`
	StoragePath string `yaml:"storage_path,omitempty"`

	FlushInterval       string `yaml:"flush_interval,omitempty"`        // duration string (default 30s)
	SessionTimeout      string `yaml:"session_timeout,omitempty"`       // duration string (default 30m)
	FlagRefreshInterval string `yaml:"flag_refresh_interval,omitempty"` // duration string (empty = on demand only)
	HeartbeatInterval   string `yaml:"heartbeat_interval,omitempty"`    // duration string (default 1m)

	MaxBatchSize int `yaml:"max_batch_size,omitempty"`
	MaxQueueSize int `yaml:"max_queue_size,omitempty"`

	OptOut      bool   `yaml:"opt_out"`
	Debug       bool   `yaml:"debug,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	Device deviceConfig `yaml:"device,omitempty"`
}

// deviceConfig describes the host the agent reports as.
type deviceConfig struct {
	DeviceID     string `yaml:"device_id,omitempty"`
	AppVersion   string `yaml:"app_version,omitempty"`
	OSName       string `yaml:"os_name,omitempty"`
	OSVersion    string `yaml:"os_version,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Manufacturer string `yaml:"manufacturer,omitempty"`
	Locale       string `yaml:"locale,omitempty"`
	Timezone     string `yaml:"timezone,omitempty"`
}

// loadConfig loads the agent configuration from the specified file.
// Environment variables referenced in the file ("${BEACON_API_KEY}") are
// expanded, and a .env file in the working directory is honored.
func loadConfig(configPath string) (*agentConfig, error) {
	// Load .env before expanding references in the YAML. Missing files
	// are fine; a .env is a development convenience, not a requirement.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg agentConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if cfg.HeartbeatInterval == "" {
		cfg.HeartbeatInterval = "1m"
	}

	return &cfg, nil
}

// applyEnvOverrides lets BEACON_* environment variables win over the file,
// so deployments can keep secrets out of it entirely.
func applyEnvOverrides(cfg *agentConfig) {
	if v := os.Getenv("BEACON_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BEACON_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("BEACON_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("BEACON_OPT_OUT"); v != "" {
		if optOut, err := strconv.ParseBool(v); err == nil {
			cfg.OptOut = optOut
		} else {
			slog.Warn("Ignoring invalid BEACON_OPT_OUT value", "value", v)
		}
	}
}

// clientConfig converts the file form into a beacon.Config, parsing the
// duration strings. Unset durations stay zero and pick up the library
// defaults.
func (c *agentConfig) clientConfig() (beacon.Config, error) {
	cfg := beacon.Config{
		APIKey:       c.APIKey,
		Host:         c.Host,
		StoragePath:  c.StoragePath,
		MaxBatchSize: c.MaxBatchSize,
		MaxQueueSize: c.MaxQueueSize,
		Debug:        c.Debug,
		Device: beacon.DeviceInfo{
			DeviceID:     c.Device.DeviceID,
			AppVersion:   c.Device.AppVersion,
			OSName:       c.Device.OSName,
			OSVersion:    c.Device.OSVersion,
			Model:        c.Device.Model,
			Manufacturer: c.Device.Manufacturer,
			Locale:       c.Device.Locale,
			Timezone:     c.Device.Timezone,
		},
	}

	var err error
	if cfg.FlushInterval, err = parseInterval("flush_interval", c.FlushInterval); err != nil {
		return beacon.Config{}, err
	}
	if cfg.SessionTimeout, err = parseInterval("session_timeout", c.SessionTimeout); err != nil {
		return beacon.Config{}, err
	}
	if cfg.FlagRefreshInterval, err = parseInterval("flag_refresh_interval", c.FlagRefreshInterval); err != nil {
		return beacon.Config{}, err
	}

	return cfg, nil
}

// heartbeat returns the demo event interval for the run command.
func (c *agentConfig) heartbeat() (time.Duration, error) {
	return parseInterval("heartbeat_interval", c.HeartbeatInterval)
}

func parseInterval(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: %s: must be positive", name, value)
	}
	return d, nil
}

// initConfig creates a new configuration file with example content.
func initConfig(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := agentConfig{
		APIKey:              "${BEACON_API_KEY}",
		Host:                beacon.DefaultHost,
		StoragePath:         beacon.DefaultStoragePath,
		FlushInterval:       "30s",
		SessionTimeout:      "30m",
		FlagRefreshInterval: "5m",
		HeartbeatInterval:   "1m",
		MetricsAddr:         ":9464",
		Device: deviceConfig{
			AppVersion: "1.0.0",
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
