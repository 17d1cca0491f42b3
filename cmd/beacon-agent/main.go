package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/beacon"
	"git.home.luguber.info/inful/beacon/internal/diag"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"beacon.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct{} `cmd:"" help:"Run the agent, reporting heartbeat telemetry until interrupted"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Track struct {
		Event string   `short:"e" required:"" help:"Event name to capture"`
		Prop  []string `short:"p" help:"Event property as key=value (repeatable)"`
	} `cmd:"" help:"Capture a single event and flush it"`

	Flags struct{} `cmd:"" help:"Fetch feature flags and print the resulting set"`
}

func main() {
	ctx := kong.Parse(&CLI)

	// Set up logging
	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Execute command
	switch ctx.Command() {
	case "run":
		cfg, err := loadConfig(CLI.Config)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runAgent(cfg); err != nil {
			slog.Error("Agent failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
	case "track":
		cfg, err := loadConfig(CLI.Config)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runTrack(cfg, CLI.Track.Event, CLI.Track.Prop); err != nil {
			slog.Error("Track failed", "error", err)
			os.Exit(1)
		}
	case "flags":
		cfg, err := loadConfig(CLI.Config)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runFlags(cfg); err != nil {
			slog.Error("Flags failed", "error", err)
			os.Exit(1)
		}
	}
}

func runAgent(cfg *agentConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	heartbeat, err := cfg.heartbeat()
	if err != nil {
		return err
	}

	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return err
	}

	var registry *prometheus.Registry
	if cfg.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		clientCfg.Registry = registry
	}

	client, err := beacon.New(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}
	if client.OptedOut() != cfg.OptOut {
		client.SetOptOut(cfg.OptOut)
	}
	client.OnForeground()

	var metricsSrv *http.Server
	if registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", diag.HTTPHandler(registry))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("Metrics server listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server error", "error", err)
			}
		}()
	}

	watcher, err := newConfigWatcher(CLI.Config, client)
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Stop()

	heartbeatSched, err := startHeartbeat(client, heartbeat)
	if err != nil {
		return err
	}

	slog.Info("Agent started, waiting for shutdown signal...", "heartbeat", heartbeat.String())

	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping agent...")

	// Stop gracefully, flushing the queued backlog
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := heartbeatSched.Shutdown(); err != nil {
		slog.Warn("Heartbeat scheduler shutdown failed", "error", err)
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(stopCtx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	if err := client.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("failed to stop client: %w", err)
	}

	slog.Info("Agent stopped successfully")
	return nil
}

// startHeartbeat schedules a periodic event so a fresh deployment has
// pipeline traffic to look at end to end.
func startHeartbeat(client *beacon.Client, interval time.Duration) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat scheduler: %w", err)
	}

	start := time.Now()
	var beats atomic.Int64
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			client.Track("agent_heartbeat", map[string]any{
				"sequence":       beats.Add(1),
				"uptime_seconds": int64(time.Since(start).Seconds()),
			})
		}),
		gocron.WithName("heartbeat"),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	scheduler.Start()
	return scheduler, nil
}

func runInit(configPath string, force bool) error {
	slog.Info("Initializing configuration", "path", configPath, "force", force)
	if err := initConfig(configPath, force); err != nil {
		return err
	}
	slog.Info("Configuration file created", "path", configPath)
	return nil
}

func runTrack(cfg *agentConfig, eventName string, pairs []string) error {
	properties, err := parseProps(pairs)
	if err != nil {
		return err
	}

	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return err
	}
	// One-shot invocation: no session bookkeeping, no decide call.
	clientCfg.EnableSessionTracking = beacon.Bool(false)
	clientCfg.EnableFeatureFlags = beacon.Bool(false)
	clientCfg.CaptureLifecycleEvents = beacon.Bool(false)

	client, err := beacon.New(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	client.Track(eventName, properties)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := client.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}

	slog.Info("Event captured", "event", eventName, "properties", len(properties))
	return nil
}

func runFlags(cfg *agentConfig) error {
	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return err
	}
	clientCfg.EnableFeatureFlags = beacon.Bool(true)
	clientCfg.CaptureLifecycleEvents = beacon.Bool(false)

	client, err := beacon.New(clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	fetchCtx, fetchCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer fetchCancel()

	if err := client.ReloadFeatureFlags(fetchCtx); err != nil {
		return fmt.Errorf("failed to fetch feature flags: %w", err)
	}

	set := client.FeatureFlags()
	slog.Info("Feature flags fetched", "distinct_id", client.DistinctID(), "count", len(set))
	for _, key := range slices.Sorted(maps.Keys(set)) {
		if payload := client.FeatureFlagPayload(key); payload != nil {
			slog.Info("Feature flag", "key", key, "enabled", set[key], "payload", payload)
		} else {
			slog.Info("Feature flag", "key", key, "enabled", set[key])
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := client.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("failed to stop client: %w", err)
	}
	return nil
}

// parseProps turns key=value pairs into event properties. Values that read
// as numbers or booleans are typed as such; everything else stays a string.
func parseProps(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q (expected key=value)", pair)
		}
		props[key] = coerceProp(raw)
	}
	return props, nil
}

func coerceProp(raw string) any {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return raw
}
