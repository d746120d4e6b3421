// Rig Core - Device Control Fabric
//
// This is the main entry point for the Rig Core daemon. It composes a
// rig from configuration: local devices, cluster nodes, the optional
// HTTP API, the MQTT property mirror and InfluxDB property history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openrig/rigcore/internal/api"
	"github.com/openrig/rigcore/internal/build"
	"github.com/openrig/rigcore/internal/devices/sim"
	"github.com/openrig/rigcore/internal/infrastructure/config"
	"github.com/openrig/rigcore/internal/infrastructure/logging"
	"github.com/openrig/rigcore/internal/mirror"
	"github.com/openrig/rigcore/internal/rig"
	"github.com/openrig/rigcore/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Rig Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Register device factories
	registry := build.NewRegistry()
	if err := sim.Register(registry); err != nil {
		return fmt.Errorf("registering device factories: %w", err)
	}

	// Build and start the rig
	r := rig.New(cfg, registry, log)
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("starting rig: %w", err)
	}
	defer func() {
		log.Info("stopping rig")
		r.Stop()
	}()
	log.Info("rig started",
		"id", cfg.Rig.ID,
		"name", cfg.Rig.Name,
		"devices", len(r.Handles()),
	)

	// Connect the MQTT property mirror (optional)
	if cfg.Mirror.Enabled {
		mirrorClient, connectErr := mirror.Connect(cfg.Mirror)
		if connectErr != nil {
			return fmt.Errorf("connecting property mirror: %w", connectErr)
		}
		defer func() {
			log.Info("disconnecting property mirror")
			if closeErr := mirrorClient.Close(); closeErr != nil {
				log.Error("error closing property mirror", "error", closeErr)
			}
		}()

		m := mirror.New(mirrorClient, byte(cfg.Mirror.QoS), log)
		if attachErr := m.Attach(r.Handles()); attachErr != nil {
			return fmt.Errorf("attaching property mirror: %w", attachErr)
		}
		log.Info("property mirror connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Mirror.Broker.Host, cfg.Mirror.Broker.Port),
			"client_id", cfg.Mirror.Broker.ClientID,
		)
	} else {
		log.Info("property mirror disabled")
	}

	// Connect InfluxDB property history (optional)
	if cfg.Telemetry.Enabled {
		telemetryClient, connectErr := telemetry.Connect(cfg.Telemetry)
		if connectErr != nil {
			return fmt.Errorf("connecting telemetry: %w", connectErr)
		}
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := telemetryClient.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()

		telemetryClient.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})

		sink := telemetry.NewSink(telemetryClient, log)
		if attachErr := sink.Attach(r.Handles()); attachErr != nil {
			return fmt.Errorf("attaching telemetry sink: %w", attachErr)
		}
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)
	} else {
		log.Info("telemetry disabled")
	}

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		server, newErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Handles: r,
			Version: version,
		})
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Telemetry (if enabled)
	// 3. Property mirror (if enabled)
	// 4. Rig (handles, cluster, netctx)

	log.Info("Rig Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RIGCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RIGCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
